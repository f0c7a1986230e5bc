package presale

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	nativepresale "tokensale/native/presale"
	"tokensale/storage"
)

func TestStoreEmpty(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	sale, ok, err := store.PresaleSale()
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, sale)

	acc, ok, err := store.PresaleAccount(common.HexToAddress("0x01"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, acc)

	members, err := store.PresaleRoleMembers(nativepresale.RoleOperator)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestStoreCommitRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	operator := common.HexToAddress("0x0100")
	buyer := common.HexToAddress("0x0200")
	other := common.HexToAddress("0x0300")

	batch := &nativepresale.Batch{
		Sale: &nativepresale.Sale{
			StartTime:   1_700_000_000,
			EndTime:     1_710_368_000,
			TotalSold:   big.NewInt(42),
			Outstanding: big.NewInt(40),
			Price:       big.NewInt(589000),
			PaymentMethods: []nativepresale.PaymentMethod{
				{Index: 0, Reference: nativepresale.NativeCurrency},
				{Index: 1, Reference: common.HexToAddress("0xdead")},
			},
		},
		Accounts: []*nativepresale.Account{
			{Address: buyer, Tokens: big.NewInt(40), Deposits: []*big.Int{big.NewInt(0), big.NewInt(9)}},
			{Address: other, Tokens: big.NewInt(0), Settlement: nativepresale.SettlementRefunded},
		},
		Roles: map[nativepresale.Role][]common.Address{
			nativepresale.RoleOperator: {operator},
		},
	}
	require.NoError(t, store.PresaleCommit(batch))

	sale, ok, err := store.PresaleSale()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1_700_000_000), sale.StartTime)
	require.Equal(t, int64(1_710_368_000), sale.EndTime)
	require.Equal(t, "42", sale.TotalSold.String())
	require.Equal(t, "40", sale.Outstanding.String())
	require.Equal(t, "589000", sale.Price.String())
	require.Equal(t, batch.Sale.PaymentMethods, sale.PaymentMethods)

	acc, ok, err := store.PresaleAccount(buyer)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "40", acc.Tokens.String())
	require.Equal(t, "9", acc.Deposit(1).String())
	require.Equal(t, nativepresale.SettlementNone, acc.Settlement)

	members, err := store.PresaleRoleMembers(nativepresale.RoleOperator)
	require.NoError(t, err)
	require.Equal(t, []common.Address{operator}, members)

	var visited []common.Address
	require.NoError(t, store.PresaleAccounts(func(acc *nativepresale.Account) bool {
		visited = append(visited, acc.Address)
		return true
	}))
	require.Equal(t, []common.Address{buyer, other}, visited)

	require.NoError(t, store.PresaleCommit(&nativepresale.Batch{
		Roles: map[nativepresale.Role][]common.Address{nativepresale.RoleOperator: nil},
	}))
	members, err = store.PresaleRoleMembers(nativepresale.RoleOperator)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestStoreRejectsNegativeTimestamps(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	err := store.PresaleCommit(&nativepresale.Batch{Sale: &nativepresale.Sale{StartTime: -1}})
	require.Error(t, err)
	_, ok, err := store.PresaleSale()
	require.NoError(t, err)
	require.False(t, ok)
}
