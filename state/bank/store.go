package bank

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	nativebank "tokensale/native/bank"
	"tokensale/storage"
)

var (
	balancePrefix   = []byte("bank/balance/")
	allowancePrefix = []byte("bank/allowance/")
)

func balanceKey(asset, holder common.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	buf = append(buf, balancePrefix...)
	buf = append(buf, asset.Bytes()...)
	return append(buf, holder.Bytes()...)
}

func allowanceKey(asset, owner, spender common.Address) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+3*common.AddressLength)
	buf = append(buf, allowancePrefix...)
	buf = append(buf, asset.Bytes()...)
	buf = append(buf, owner.Bytes()...)
	return append(buf, spender.Bytes()...)
}

// Store persists bank balances and allowances as rlp-encoded integers.
type Store struct {
	db storage.Database
}

// NewStore returns a store writing to db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) BankBalance(asset, holder common.Address) (*big.Int, error) {
	return s.readAmount(balanceKey(asset, holder))
}

func (s *Store) BankAllowance(asset, owner, spender common.Address) (*big.Int, error) {
	return s.readAmount(allowanceKey(asset, owner, spender))
}

// BankCommit applies the batch atomically. Zero amounts delete the record.
func (s *Store) BankCommit(batch *nativebank.Batch) error {
	if batch == nil {
		return nil
	}
	wb := s.db.NewBatch()
	for _, b := range batch.Balances {
		if err := stage(wb, balanceKey(b.Asset, b.Holder), b.Amount); err != nil {
			return err
		}
	}
	for _, a := range batch.Allowances {
		if err := stage(wb, allowanceKey(a.Asset, a.Owner, a.Spender), a.Amount); err != nil {
			return err
		}
	}
	if wb.Len() == 0 {
		return nil
	}
	return wb.Write()
}

// Holders visits every holder with a non-zero balance of asset.
func (s *Store) Holders(asset common.Address, fn func(holder common.Address, amount *big.Int) bool) error {
	prefix := append(append([]byte(nil), balancePrefix...), asset.Bytes()...)
	var decodeErr error
	err := s.db.Iterate(prefix, func(key, value []byte) bool {
		amount := new(big.Int)
		if err := rlp.DecodeBytes(value, amount); err != nil {
			decodeErr = err
			return false
		}
		return fn(common.BytesToAddress(key[len(prefix):]), amount)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func (s *Store) readAmount(key []byte) (*big.Int, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func stage(wb storage.Batch, key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		wb.Delete(key)
		return nil
	}
	if amount.Sign() < 0 {
		return errors.New("bank state: negative amount")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	wb.Put(key, encoded)
	return nil
}
