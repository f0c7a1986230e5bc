package main

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	salecfg "tokensale/config"
	"tokensale/native/bank"
	"tokensale/native/presale"
	bankstate "tokensale/state/bank"
	presalestate "tokensale/state/presale"
	"tokensale/storage"
)

func TestBootstrapSeedsFreshLedgerOnce(t *testing.T) {
	ctx := context.Background()
	token := common.HexToAddress("0x00000000000000000000000000000000000070c3")
	custody := common.HexToAddress("0x000000000000000000000000000000000000c057")
	admin := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	signer := common.HexToAddress("0x0000000000000000000000000000000000000516")
	usd := common.HexToAddress("0x0000000000000000000000000000000000000d5d")

	db := storage.NewMemDB()
	ledger := bank.NewLedger(bankstate.NewStore(db))
	cfg := presale.Config{
		Token:         token,
		TokenDecimals: 18,
		SoftCap:       big.NewInt(1_000),
		Duration:      3600,
		Custody:       custody,
	}
	resolver := presale.AssetResolverFunc(func(ref common.Address) (presale.Asset, error) {
		return ledger.Handle(ref), nil
	})
	engine, err := presale.NewEngine(cfg, presalestate.NewStore(db), resolver)
	require.NoError(t, err)

	sale := &salecfg.Resolved{
		Engine:         cfg,
		Admin:          admin,
		Price:          big.NewInt(25),
		Authorizers:    []common.Address{signer},
		PaymentMethods: []common.Address{presale.NativeCurrency, usd},
		Allocations: []salecfg.ResolvedAllocation{
			{Asset: token, Holder: custody, Amount: big.NewInt(5_000)},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, bootstrap(ctx, engine, ledger, sale, logger))
	require.NoError(t, bootstrap(ctx, engine, ledger, sale, logger))

	require.True(t, engine.HasRole(presale.RoleOperator, admin))
	require.True(t, engine.HasRole(presale.RoleAuthorizer, signer))
	methods, err := engine.PaymentMethods()
	require.NoError(t, err)
	require.Len(t, methods, 2)
	require.Equal(t, usd, methods[1].Reference)

	state, err := engine.Sale()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(25), state.Price)

	balance, err := ledger.Balance(token, custody)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5_000), balance)
}

func TestBootstrapSurfacesEngineErrors(t *testing.T) {
	db := storage.NewMemDB()
	ledger := bank.NewLedger(bankstate.NewStore(db))
	cfg := presale.Config{
		Token:         common.HexToAddress("0x01"),
		TokenDecimals: 18,
		SoftCap:       big.NewInt(1),
		Duration:      60,
		Custody:       common.HexToAddress("0x02"),
	}
	engine, err := presale.NewEngine(cfg, presalestate.NewStore(db), presale.AssetResolverFunc(func(ref common.Address) (presale.Asset, error) {
		return ledger.Handle(ref), nil
	}))
	require.NoError(t, err)

	sale := &salecfg.Resolved{Engine: cfg}
	err = bootstrap(context.Background(), engine, ledger, sale, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorIs(t, err, presale.ErrInvalidAddress)
}
