package presale

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// AuthorizationDigest returns keccak256 over the tightly packed tuple
// (reference, paymentAmount, tokenAmount, expiry) with each amount encoded as
// a 32-byte big-endian word.
func AuthorizationDigest(reference common.Address, paymentAmount, tokenAmount, expiry *big.Int) ([]byte, error) {
	packed := make([]byte, 0, common.AddressLength+3*32)
	packed = append(packed, reference.Bytes()...)
	for _, v := range []*big.Int{paymentAmount, tokenAmount, expiry} {
		word, err := packUint256(v)
		if err != nil {
			return nil, err
		}
		packed = append(packed, word[:]...)
	}
	return ethcrypto.Keccak256(packed), nil
}

// AuthorizationHash wraps the digest with the personal-message prefix. This is
// the hash authorizers sign.
func AuthorizationHash(reference common.Address, paymentAmount, tokenAmount, expiry *big.Int) ([]byte, error) {
	digest, err := AuthorizationDigest(reference, paymentAmount, tokenAmount, expiry)
	if err != nil {
		return nil, err
	}
	return accounts.TextHash(digest), nil
}

// SignAuthorization produces a 65-byte [R || S || V] signature with V in
// {27, 28} over the authorization hash.
func SignAuthorization(key *ecdsa.PrivateKey, reference common.Address, paymentAmount, tokenAmount, expiry *big.Int) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("presale: signing key required")
	}
	hash, err := AuthorizationHash(reference, paymentAmount, tokenAmount, expiry)
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAuthorizer returns the address that signed the request's tuple. Any
// malformed input yields ErrInvalidAuthorization.
func RecoverAuthorizer(req PurchaseRequest) (common.Address, error) {
	hash, err := AuthorizationHash(req.PaymentMethod, req.PaymentAmount, req.TokenAmount, req.Expiry)
	if err != nil {
		return common.Address{}, ErrInvalidAuthorization
	}
	if len(req.Signature) != 65 {
		return common.Address{}, ErrInvalidAuthorization
	}
	sig := append([]byte(nil), req.Signature...)
	switch sig[64] {
	case 27, 28:
		sig[64] -= 27
	case 0, 1:
	default:
		return common.Address{}, ErrInvalidAuthorization
	}
	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, ErrInvalidAuthorization
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// verifyAuthorization checks expiry first, then that the tuple was signed by a
// current authorizer.
func (e *Engine) verifyAuthorization(req PurchaseRequest, now int64) (common.Address, error) {
	if req.Expiry == nil {
		return common.Address{}, ErrInvalidAuthorization
	}
	if big.NewInt(now).Cmp(req.Expiry) > 0 {
		return common.Address{}, ErrAuthorizationExpired
	}
	signer, err := RecoverAuthorizer(req)
	if err != nil {
		return common.Address{}, err
	}
	ok, err := e.hasRole(RoleAuthorizer, signer)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, ErrInvalidAuthorization
	}
	return signer, nil
}

func packUint256(v *big.Int) ([32]byte, error) {
	if v == nil || v.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("presale: value out of uint256 range")
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, fmt.Errorf("presale: value out of uint256 range")
	}
	return word.Bytes32(), nil
}
