package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"tokensale/cmd/internal/passphrase"
	"tokensale/crypto"
)

func runKeygen(args []string, out io.Writer) error {
	flags := newFlagSet("keygen")
	keystorePath := flags.String("keystore", "", "Output path for the keystore file")
	passEnv := flags.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := flags.Bool("force", false, "Overwrite an existing keystore file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("keystore", *keystorePath); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore %s already exists (use -force to overwrite)", *keystorePath)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat keystore: %w", err)
		}
	}

	pass, err := passphrase.NewSource(*passEnv, "keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(out, "Keystore: %s\n", *keystorePath)
	fmt.Fprintf(out, "Address:  %s\n", addr.Hex())
	fmt.Fprintf(out, "Display:  %s\n", crypto.SaleAddress(addr))
	return nil
}

func runAddress(args []string, out io.Writer) error {
	flags := newFlagSet("address")
	keystorePath := flags.String("keystore", "", "Keystore file to inspect")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("keystore", *keystorePath); err != nil {
		return err
	}
	addr, err := crypto.KeystoreAddress(*keystorePath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Address:  %s\n", addr.Hex())
	fmt.Fprintf(out, "Display:  %s\n", crypto.SaleAddress(addr))
	return nil
}
