package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultPassEnv   = "PRESALE_KEYSTORE_PASS"
	defaultSecretEnv = "PRESALED_HMAC_SECRET"
)

type command struct {
	name    string
	summary string
	run     func(args []string, out io.Writer) error
}

var commands = []command{
	{name: "keygen", summary: "generate an authorizer or buyer keystore", run: runKeygen},
	{name: "address", summary: "print the address recorded in a keystore", run: runAddress},
	{name: "digest", summary: "print the authorization digest and signed hash", run: runDigest},
	{name: "sign", summary: "sign a purchase authorization with a keystore", run: runSign},
	{name: "token", summary: "issue a presaled bearer token", run: runToken},
	{name: "export", summary: "export ledger accounts to parquet", run: runExport},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := dispatch(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(name string, args []string, out io.Writer) error {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd.run(args, out)
		}
	}
	usage(os.Stderr)
	return fmt.Errorf("unknown command %q", name)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: presalectl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", cmd.name, cmd.summary)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("-%s is required", name)
	}
	return nil
}
