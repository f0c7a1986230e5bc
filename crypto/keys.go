package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering ledger
// identities as bech32 strings.
type AddressPrefix string

const (
	// SalePrefix is used for buyer, operator and authorizer identities.
	SalePrefix AddressPrefix = "sale"
	// AssetPrefix is used for payment instruments and the presale token.
	AssetPrefix AddressPrefix = "asset"
)

// Address represents a 20-byte identity with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// Common converts the address into the go-ethereum representation used by the
// ledger.
func (a Address) Common() ethcommon.Address {
	return ethcommon.BytesToAddress(a.bytes)
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("invalid address length %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// SaleAddress renders a ledger identity with the sale prefix.
func SaleAddress(addr ethcommon.Address) string {
	return NewAddress(SalePrefix, addr.Bytes()).String()
}

// AssetAddress renders an asset reference with the asset prefix.
func AssetAddress(addr ethcommon.Address) string {
	return NewAddress(AssetPrefix, addr.Bytes()).String()
}

// ParseAddress accepts either a 0x-prefixed hex address or a bech32 address
// with any prefix.
func ParseAddress(raw string) (ethcommon.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ethcommon.Address{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return ethcommon.Address{}, fmt.Errorf("invalid hex address: %w", err)
		}
		if len(decoded) != 20 {
			return ethcommon.Address{}, fmt.Errorf("invalid address length %d", len(decoded))
		}
		return ethcommon.BytesToAddress(decoded), nil
	}
	addr, err := DecodeAddress(trimmed)
	if err != nil {
		return ethcommon.Address{}, err
	}
	return addr.Common(), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address returns the ledger identity controlled by the public key.
func (k *PublicKey) Address() ethcommon.Address {
	return crypto.PubkeyToAddress(*k.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
