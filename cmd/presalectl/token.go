package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tokensale/crypto"
	"tokensale/services/presaled/server"
)

func runToken(args []string, out io.Writer) error {
	flags := newFlagSet("token")
	subject := flags.String("subject", "", "Caller address the token authenticates")
	secretEnv := flags.String("secret-env", defaultSecretEnv, "Environment variable containing the presaled HMAC secret")
	issuer := flags.String("issuer", "", "Issuer claim expected by presaled")
	audience := flags.String("audience", "", "Audience claim expected by presaled")
	ttl := flags.Duration("ttl", time.Hour, "Token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("subject", *subject); err != nil {
		return err
	}
	caller, err := crypto.ParseAddress(*subject)
	if err != nil {
		return fmt.Errorf("-subject: %w", err)
	}
	secret := os.Getenv(strings.TrimSpace(*secretEnv))
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%s must hold the presaled HMAC secret", *secretEnv)
	}
	token, err := server.IssueToken(secret, caller, *issuer, *audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
