package main

import (
	"context"
	"fmt"
	"log/slog"

	salecfg "tokensale/config"
	"tokensale/native/bank"
	"tokensale/native/presale"
)

// bootstrap seeds a fresh ledger from the sale file. It is a no-op once the
// sale record exists so restarts never mint allocations twice.
func bootstrap(ctx context.Context, engine *presale.Engine, ledger *bank.Ledger, sale *salecfg.Resolved, logger *slog.Logger) error {
	initialized, err := engine.Initialized()
	if err != nil {
		return fmt.Errorf("read sale state: %w", err)
	}
	if initialized {
		logger.Info("sale already initialized; skipping bootstrap")
		return nil
	}
	admin := sale.Admin
	if err := engine.Initialize(ctx, admin); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	for _, authorizer := range sale.Authorizers {
		if err := engine.Grant(ctx, admin, presale.RoleAuthorizer, authorizer); err != nil {
			return fmt.Errorf("grant authorizer %s: %w", authorizer.Hex(), err)
		}
	}
	for _, reference := range sale.PaymentMethods {
		index, err := engine.AddPaymentMethod(ctx, admin, reference)
		if err != nil {
			return fmt.Errorf("add payment method %s: %w", reference.Hex(), err)
		}
		logger.Info("payment method registered", slog.Uint64("index", uint64(index)), slog.String("asset", reference.Hex()))
	}
	if sale.Price != nil {
		if err := engine.SetPrice(ctx, admin, sale.Price); err != nil {
			return fmt.Errorf("set price: %w", err)
		}
	}
	for _, alloc := range sale.Allocations {
		if err := ledger.Mint(ctx, alloc.Asset, alloc.Holder, alloc.Amount); err != nil {
			return fmt.Errorf("allocate %s to %s: %w", alloc.Asset.Hex(), alloc.Holder.Hex(), err)
		}
	}
	logger.Info("sale bootstrapped",
		slog.String("admin", admin.Hex()),
		slog.Int("authorizers", len(sale.Authorizers)),
		slog.Int("paymentMethods", len(sale.PaymentMethods)),
		slog.Int("allocations", len(sale.Allocations)))
	return nil
}
