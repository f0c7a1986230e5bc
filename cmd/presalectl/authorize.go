package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"tokensale/cmd/internal/passphrase"
	salecfg "tokensale/config"
	"tokensale/crypto"
	"tokensale/native/presale"
)

// authorizationFlags are the tuple fields shared by digest and sign.
type authorizationFlags struct {
	method string
	pay    string
	tokens string
	expiry int64
	ttl    time.Duration
}

func (a *authorizationFlags) register(flags *flag.FlagSet) {
	flags.StringVar(&a.method, "method", salecfg.NativeAlias, "Payment method reference or \"native\"")
	flags.StringVar(&a.pay, "pay", "", "Payment amount in base units")
	flags.StringVar(&a.tokens, "tokens", "", "Token amount in base units")
	flags.Int64Var(&a.expiry, "expiry", 0, "Absolute expiry as unix seconds")
	flags.DurationVar(&a.ttl, "ttl", 15*time.Minute, "Expiry relative to now when -expiry is unset")
}

type authorizationTuple struct {
	reference common.Address
	pay       *big.Int
	tokens    *big.Int
	expiry    *big.Int
}

func (a *authorizationFlags) resolve(now time.Time) (*authorizationTuple, error) {
	var (
		ref common.Address
		err error
	)
	if strings.EqualFold(strings.TrimSpace(a.method), salecfg.NativeAlias) {
		ref = presale.NativeCurrency
	} else if ref, err = crypto.ParseAddress(a.method); err != nil {
		return nil, fmt.Errorf("-method: %w", err)
	}
	pay, err := parseUnits("pay", a.pay)
	if err != nil {
		return nil, err
	}
	tokens, err := parseUnits("tokens", a.tokens)
	if err != nil {
		return nil, err
	}
	expiry := a.expiry
	if expiry == 0 {
		if a.ttl <= 0 {
			return nil, fmt.Errorf("-ttl must be positive when -expiry is unset")
		}
		expiry = now.Add(a.ttl).Unix()
	}
	if expiry < 0 {
		return nil, fmt.Errorf("-expiry must not be negative")
	}
	return &authorizationTuple{reference: ref, pay: pay, tokens: tokens, expiry: big.NewInt(expiry)}, nil
}

func parseUnits(name, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(raw, "_", ""))
	if trimmed == "" {
		return nil, fmt.Errorf("-%s is required", name)
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("-%s: invalid amount %q", name, raw)
	}
	return v, nil
}

func runDigest(args []string, out io.Writer) error {
	flags := newFlagSet("digest")
	var auth authorizationFlags
	auth.register(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	tuple, err := auth.resolve(time.Now())
	if err != nil {
		return err
	}
	digest, err := presale.AuthorizationDigest(tuple.reference, tuple.pay, tuple.tokens, tuple.expiry)
	if err != nil {
		return err
	}
	hash, err := presale.AuthorizationHash(tuple.reference, tuple.pay, tuple.tokens, tuple.expiry)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Expiry: %s\n", tuple.expiry.String())
	fmt.Fprintf(out, "Digest: %s\n", hexutil.Encode(digest))
	fmt.Fprintf(out, "Hash:   %s\n", hexutil.Encode(hash))
	return nil
}

// signedPurchase mirrors the presaled purchase request body.
type signedPurchase struct {
	PaymentMethod string `json:"payment_method"`
	PaymentAmount string `json:"payment_amount"`
	TokenAmount   string `json:"token_amount"`
	Expiry        string `json:"expiry"`
	Signature     string `json:"signature"`
	Signer        string `json:"signer"`
}

func runSign(args []string, out io.Writer) error {
	flags := newFlagSet("sign")
	keystorePath := flags.String("keystore", "", "Authorizer keystore file")
	passEnv := flags.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	var auth authorizationFlags
	auth.register(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("keystore", *keystorePath); err != nil {
		return err
	}
	tuple, err := auth.resolve(time.Now())
	if err != nil {
		return err
	}
	pass, err := passphrase.NewSource(*passEnv, "authorizer keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(*keystorePath, pass)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}
	sig, err := presale.SignAuthorization(key.PrivateKey, tuple.reference, tuple.pay, tuple.tokens, tuple.expiry)
	if err != nil {
		return err
	}
	return writeSignedPurchase(out, key.PubKey().Address(), tuple, sig)
}

func writeSignedPurchase(out io.Writer, signer common.Address, tuple *authorizationTuple, sig []byte) error {
	method := tuple.reference.Hex()
	if tuple.reference == presale.NativeCurrency {
		method = salecfg.NativeAlias
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(signedPurchase{
		PaymentMethod: method,
		PaymentAmount: tuple.pay.String(),
		TokenAmount:   tuple.tokens.String(),
		Expiry:        tuple.expiry.String(),
		Signature:     hexutil.Encode(sig),
		Signer:        signer.Hex(),
	})
}
