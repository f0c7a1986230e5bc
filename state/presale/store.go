package presale

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	nativepresale "tokensale/native/presale"
	"tokensale/storage"
)

var (
	saleKey       = []byte("presale/sale")
	accountPrefix = []byte("presale/account/")
	rolePrefix    = []byte("presale/role/")
)

func accountKey(addr common.Address) []byte {
	buf := make([]byte, 0, len(accountPrefix)+common.AddressLength)
	buf = append(buf, accountPrefix...)
	return append(buf, addr.Bytes()...)
}

func roleKey(role nativepresale.Role) []byte {
	buf := make([]byte, 0, len(rolePrefix)+len(role))
	buf = append(buf, rolePrefix...)
	buf = append(buf, string(role)...)
	return append(append([]byte(nil), rolePrefix...), ethcrypto.Keccak256(buf)...)
}

// rlp has no signed integers, so timestamps are stored as uint64.
type storedSale struct {
	StartTime      uint64
	EndTime        uint64
	TotalSold      *big.Int
	Outstanding    *big.Int
	Price          *big.Int
	PaymentMethods []storedMethod
}

type storedMethod struct {
	Index     uint32
	Reference common.Address
}

type storedAccount struct {
	Address    common.Address
	Tokens     *big.Int
	Deposits   []*big.Int
	Settlement uint8
}

// Store persists the presale ledger in a key-value database. Every commit is
// written as a single batch.
type Store struct {
	db storage.Database
}

// NewStore returns a store writing to db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) PresaleSale() (*nativepresale.Sale, bool, error) {
	var stored storedSale
	ok, err := s.get(saleKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	sale := &nativepresale.Sale{
		StartTime:   int64(stored.StartTime),
		EndTime:     int64(stored.EndTime),
		TotalSold:   nonNil(stored.TotalSold),
		Outstanding: nonNil(stored.Outstanding),
		Price:       nonNil(stored.Price),
	}
	for _, m := range stored.PaymentMethods {
		sale.PaymentMethods = append(sale.PaymentMethods, nativepresale.PaymentMethod{Index: m.Index, Reference: m.Reference})
	}
	return sale, true, nil
}

func (s *Store) PresaleAccount(addr common.Address) (*nativepresale.Account, bool, error) {
	var stored storedAccount
	ok, err := s.get(accountKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return decodeAccount(&stored), true, nil
}

func (s *Store) PresaleRoleMembers(role nativepresale.Role) ([]common.Address, error) {
	var members []common.Address
	if _, err := s.get(roleKey(role), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// PresaleAccounts visits every stored account in address order.
func (s *Store) PresaleAccounts(fn func(*nativepresale.Account) bool) error {
	var decodeErr error
	err := s.db.Iterate(accountPrefix, func(key, value []byte) bool {
		var stored storedAccount
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			decodeErr = fmt.Errorf("presale state: decode account %x: %w", key[len(accountPrefix):], err)
			return false
		}
		return fn(decodeAccount(&stored))
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func (s *Store) PresaleCommit(batch *nativepresale.Batch) error {
	if batch == nil {
		return nil
	}
	wb := s.db.NewBatch()
	if batch.Sale != nil {
		if batch.Sale.StartTime < 0 || batch.Sale.EndTime < 0 {
			return errors.New("presale state: negative timestamp")
		}
		stored := storedSale{
			StartTime:   uint64(batch.Sale.StartTime),
			EndTime:     uint64(batch.Sale.EndTime),
			TotalSold:   nonNil(batch.Sale.TotalSold),
			Outstanding: nonNil(batch.Sale.Outstanding),
			Price:       nonNil(batch.Sale.Price),
		}
		for _, m := range batch.Sale.PaymentMethods {
			stored.PaymentMethods = append(stored.PaymentMethods, storedMethod{Index: m.Index, Reference: m.Reference})
		}
		if err := put(wb, saleKey, &stored); err != nil {
			return err
		}
	}
	for _, acc := range batch.Accounts {
		if acc == nil {
			continue
		}
		stored := storedAccount{
			Address:    acc.Address,
			Tokens:     nonNil(acc.Tokens),
			Settlement: uint8(acc.Settlement),
		}
		for _, d := range acc.Deposits {
			stored.Deposits = append(stored.Deposits, nonNil(d))
		}
		if err := put(wb, accountKey(acc.Address), &stored); err != nil {
			return err
		}
	}
	for role, members := range batch.Roles {
		if len(members) == 0 {
			wb.Delete(roleKey(role))
			continue
		}
		if err := put(wb, roleKey(role), members); err != nil {
			return err
		}
	}
	if wb.Len() == 0 {
		return nil
	}
	return wb.Write()
}

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("presale state: decode %q: %w", key, err)
	}
	return true, nil
}

func put(wb storage.Batch, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	wb.Put(key, encoded)
	return nil
}

func decodeAccount(stored *storedAccount) *nativepresale.Account {
	acc := &nativepresale.Account{
		Address:    stored.Address,
		Tokens:     nonNil(stored.Tokens),
		Settlement: nativepresale.SettlementKind(stored.Settlement),
	}
	for _, d := range stored.Deposits {
		acc.Deposits = append(acc.Deposits, nonNil(d))
	}
	return acc
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
