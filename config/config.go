package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"tokensale/crypto"
	"tokensale/native/presale"
)

const (
	DefaultTokenDecimals = 18
	// NativeAlias and TokenAlias may be used wherever an asset reference is
	// expected.
	NativeAlias = "native"
	TokenAlias  = "token"
)

// Sale is the on-disk description of a presale.
type Sale struct {
	Token           string       `toml:"Token"`
	TokenDecimals   *uint8       `toml:"TokenDecimals"`
	SoftCap         string       `toml:"SoftCap"`
	DurationSeconds int64        `toml:"DurationSeconds"`
	Custody         string       `toml:"Custody"`
	Admin           string       `toml:"Admin"`
	Price           string       `toml:"Price"`
	Authorizers     []string     `toml:"Authorizers"`
	PaymentMethods  []string     `toml:"PaymentMethods"`
	Allocations     []Allocation `toml:"Allocation"`
}

// Allocation seeds a bank balance the first time the ledger is created.
// Amount is expressed in base units.
type Allocation struct {
	Asset  string `toml:"Asset"`
	Holder string `toml:"Holder"`
	Amount string `toml:"Amount"`
}

// Resolved is the validated, typed form of Sale.
type Resolved struct {
	Engine         presale.Config
	Admin          common.Address
	Price          *big.Int
	Authorizers    []common.Address
	PaymentMethods []common.Address
	Allocations    []ResolvedAllocation
}

type ResolvedAllocation struct {
	Asset  common.Address
	Holder common.Address
	Amount *big.Int
}

// LoadSale reads and validates the sale file at path. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func LoadSale(path string) (*Sale, *Resolved, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("sale config %s: %w", path, err)
	}
	cfg := &Sale{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, nil, fmt.Errorf("sale config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, nil, fmt.Errorf("sale config %s: %w", path, err)
	}
	return cfg, resolved, nil
}

func (s *Sale) applyDefaults() {
	if s.TokenDecimals == nil {
		decimals := uint8(DefaultTokenDecimals)
		s.TokenDecimals = &decimals
	}
	if s.DurationSeconds == 0 {
		s.DurationSeconds = presale.DefaultDuration
	}
	if len(s.PaymentMethods) == 0 {
		s.PaymentMethods = []string{NativeAlias}
	}
}

// Resolve validates the sale description and converts it to engine types.
func (s *Sale) Resolve() (*Resolved, error) {
	decimals := uint8(DefaultTokenDecimals)
	if s.TokenDecimals != nil {
		decimals = *s.TokenDecimals
	}
	if decimals > 77 {
		return nil, fmt.Errorf("TokenDecimals %d out of range", decimals)
	}
	token, err := crypto.ParseAddress(s.Token)
	if err != nil {
		return nil, fmt.Errorf("Token: %w", err)
	}
	custody, err := crypto.ParseAddress(s.Custody)
	if err != nil {
		return nil, fmt.Errorf("Custody: %w", err)
	}
	admin, err := crypto.ParseAddress(s.Admin)
	if err != nil {
		return nil, fmt.Errorf("Admin: %w", err)
	}
	softCap, err := parseAmount("SoftCap", s.SoftCap)
	if err != nil {
		return nil, err
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := &Resolved{
		Engine: presale.Config{
			Token:         token,
			TokenDecimals: decimals,
			SoftCap:       new(big.Int).Mul(softCap, unit),
			Duration:      s.DurationSeconds,
			Custody:       custody,
		},
		Admin: admin,
	}
	if err := out.Engine.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Price) != "" {
		if out.Price, err = parseAmount("Price", s.Price); err != nil {
			return nil, err
		}
	}
	seen := make(map[common.Address]bool)
	for i, raw := range s.Authorizers {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("Authorizers[%d]: %w", i, err)
		}
		if seen[addr] {
			return nil, fmt.Errorf("Authorizers[%d]: duplicate %s", i, addr.Hex())
		}
		seen[addr] = true
		out.Authorizers = append(out.Authorizers, addr)
	}
	methods := make(map[common.Address]bool)
	for i, raw := range s.PaymentMethods {
		ref, err := s.assetReference(raw, token)
		if err != nil {
			return nil, fmt.Errorf("PaymentMethods[%d]: %w", i, err)
		}
		if ref == token {
			return nil, fmt.Errorf("PaymentMethods[%d]: the presale token cannot be a payment method", i)
		}
		if methods[ref] {
			return nil, fmt.Errorf("PaymentMethods[%d]: duplicate %s", i, ref.Hex())
		}
		methods[ref] = true
		out.PaymentMethods = append(out.PaymentMethods, ref)
	}
	for i, alloc := range s.Allocations {
		asset, err := s.assetReference(alloc.Asset, token)
		if err != nil {
			return nil, fmt.Errorf("Allocation[%d].Asset: %w", i, err)
		}
		holder, err := crypto.ParseAddress(alloc.Holder)
		if err != nil {
			return nil, fmt.Errorf("Allocation[%d].Holder: %w", i, err)
		}
		amount, err := parseAmount(fmt.Sprintf("Allocation[%d].Amount", i), alloc.Amount)
		if err != nil {
			return nil, err
		}
		out.Allocations = append(out.Allocations, ResolvedAllocation{Asset: asset, Holder: holder, Amount: amount})
	}
	return out, nil
}

func (s *Sale) assetReference(raw string, token common.Address) (common.Address, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case NativeAlias:
		return presale.NativeCurrency, nil
	case TokenAlias:
		return token, nil
	}
	return crypto.ParseAddress(raw)
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(raw, "_", ""))
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, raw)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive", field)
	}
	return amount, nil
}
