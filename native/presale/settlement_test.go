package presale

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// failedSale runs a sale that ends below the soft cap with buyerA paying in
// both methods and buyerB paying in usd.
func failedSale(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, tokens(1_000_000_000), tokens(1_000_000_000))
	h.fund(buyerA, tokens(100))
	h.fund(buyerB, tokens(100))
	h.start()
	h.mustBuy(buyerA, NativeCurrency, tokens(3), tokens(20))
	h.mustBuy(buyerA, usdRef, tokens(5), tokens(30))
	h.mustBuy(buyerB, usdRef, tokens(7), tokens(40))
	return h
}

// successfulSale runs a sale that reaches the soft cap exactly.
func successfulSale(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, tokens(200), tokens(1_000))
	h.fund(buyerA, tokens(100))
	h.fund(buyerB, tokens(100))
	h.start()
	h.mustBuy(buyerA, usdRef, tokens(10), tokens(150))
	h.mustBuy(buyerB, NativeCurrency, tokens(2), tokens(50))
	return h
}

func TestSettlementRequiresEnd(t *testing.T) {
	h := failedSale(t)
	_, err := h.engine.Redeem(h.ctx, buyerA)
	expectErr(t, err, ErrSaleNotEnded)
	_, err = h.engine.Refund(h.ctx, buyerA)
	expectErr(t, err, ErrSaleNotEnded)
}

func TestScenarioRefundBelowSoftCap(t *testing.T) {
	h := failedSale(t)
	h.endSale()

	reached, err := h.engine.SoftCapReached()
	if err != nil || reached {
		t.Fatalf("soft cap must not be reached: %v %v", reached, err)
	}

	paid, err := h.engine.Refund(h.ctx, buyerA)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	expectAmount(t, "refunded native", paid[0], tokens(3))
	expectAmount(t, "refunded usd", paid[1], tokens(5))
	expectAmount(t, "buyer native", h.balance(NativeCurrency, buyerA), tokens(100))
	expectAmount(t, "buyer usd", h.balance(usdRef, buyerA), tokens(100))

	acc, _ := h.engine.Account(buyerA)
	if acc.HasDeposits() || acc.Tokens.Sign() != 0 || acc.Settlement != SettlementRefunded {
		t.Fatalf("unexpected account after refund: %+v", acc)
	}

	_, err = h.engine.Refund(h.ctx, buyerA)
	expectErr(t, err, ErrNothingToRefund)
	_, err = h.engine.Redeem(h.ctx, buyerA)
	expectErr(t, err, ErrAlreadySettled)
	expectAmount(t, "buyer usd after retry", h.balance(usdRef, buyerA), tokens(100))
	expectAmount(t, "refunded buyer token", h.balance(tokenRef, buyerA), big.NewInt(0))

	// buyerB bought in the same window and takes tokens instead.
	got, err := h.engine.Redeem(h.ctx, buyerB)
	if err != nil {
		t.Fatalf("redeem below soft cap: %v", err)
	}
	expectAmount(t, "redeemed", got, tokens(40))
	expectAmount(t, "buyerB token", h.balance(tokenRef, buyerB), tokens(40))
	expectAmount(t, "buyerB usd kept by custody", h.balance(usdRef, buyerB), tokens(93))

	_, err = h.engine.Refund(h.ctx, buyerB)
	expectErr(t, err, ErrAlreadySettled)
	_, err = h.engine.Redeem(h.ctx, buyerB)
	expectErr(t, err, ErrNothingToRedeem)
	expectAmount(t, "buyerB token after retry", h.balance(tokenRef, buyerB), tokens(40))

	total, _ := h.engine.TotalSold()
	expectAmount(t, "totalSold frozen", total, tokens(90))
	sale, _ := h.engine.Sale()
	expectAmount(t, "outstanding", sale.Outstanding, big.NewInt(0))

	_, err = h.engine.Refund(h.ctx, stranger)
	expectErr(t, err, ErrNothingToRefund)
	_, err = h.engine.Redeem(h.ctx, stranger)
	expectErr(t, err, ErrNothingToRedeem)

	swept, err := h.engine.GetToken(h.ctx, operator, tokenRef)
	if err != nil {
		t.Fatalf("sweep token: %v", err)
	}
	remaining := new(big.Int).Sub(tokens(1_000_000_000), tokens(40))
	expectAmount(t, "swept token", swept, remaining)
	expectAmount(t, "operator token", h.balance(tokenRef, operator), remaining)
}

func TestScenarioRedeemAtSoftCap(t *testing.T) {
	h := successfulSale(t)
	h.endSale()

	_, err := h.engine.Refund(h.ctx, buyerA)
	expectErr(t, err, ErrSoftCapReached)

	got, err := h.engine.Redeem(h.ctx, buyerA)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	expectAmount(t, "redeemed", got, tokens(150))
	expectAmount(t, "buyer token", h.balance(tokenRef, buyerA), tokens(150))

	_, err = h.engine.Redeem(h.ctx, buyerA)
	expectErr(t, err, ErrNothingToRedeem)
	_, err = h.engine.Refund(h.ctx, buyerA)
	expectErr(t, err, ErrSoftCapReached)
	expectAmount(t, "buyer token after retry", h.balance(tokenRef, buyerA), tokens(150))

	if _, err := h.engine.Redeem(h.ctx, buyerB); err != nil {
		t.Fatalf("redeem buyerB: %v", err)
	}
	sale, _ := h.engine.Sale()
	expectAmount(t, "outstanding", sale.Outstanding, big.NewInt(0))

	_, err = h.engine.Redeem(h.ctx, stranger)
	expectErr(t, err, ErrNothingToRedeem)
}

func TestSettledAccountCannotSwitchBranch(t *testing.T) {
	h := successfulSale(t)
	h.endSale()
	h.store.accounts[buyerA].Settlement = SettlementRefunded
	_, err := h.engine.Redeem(h.ctx, buyerA)
	expectErr(t, err, ErrAlreadySettled)

	f := failedSale(t)
	f.endSale()
	f.store.accounts[buyerB].Settlement = SettlementRedeemed
	_, err = f.engine.Refund(f.ctx, buyerB)
	expectErr(t, err, ErrAlreadySettled)
}

func TestScenarioSweepGating(t *testing.T) {
	h := failedSale(t)
	h.mint(foreignRef, custody, big.NewInt(777))

	_, err := h.engine.GetToken(h.ctx, stranger, foreignRef)
	expectErr(t, err, ErrAccessDenied)

	swept, err := h.engine.GetToken(h.ctx, operator, foreignRef)
	if err != nil {
		t.Fatalf("sweep foreign: %v", err)
	}
	expectAmount(t, "swept foreign", swept, big.NewInt(777))
	expectAmount(t, "operator foreign", h.balance(foreignRef, operator), big.NewInt(777))

	_, err = h.engine.GetToken(h.ctx, operator, tokenRef)
	expectErr(t, err, ErrSaleNotEnded)

	h.endSale()
	swept, err = h.engine.GetToken(h.ctx, operator, tokenRef)
	if err != nil {
		t.Fatalf("sweep token: %v", err)
	}
	expectAmount(t, "swept token", swept, tokens(1_000_000_000))
	expectAmount(t, "custody token", h.balance(tokenRef, custody), big.NewInt(0))

	swept, err = h.engine.GetToken(h.ctx, operator, tokenRef)
	if err != nil {
		t.Fatalf("empty sweep: %v", err)
	}
	expectAmount(t, "empty sweep", swept, big.NewInt(0))
}

func TestSweepBeforeStartIsGated(t *testing.T) {
	h := newHarness(t, tokens(10), tokens(10))
	_, err := h.engine.GetToken(h.ctx, operator, tokenRef)
	expectErr(t, err, ErrSaleNotEnded)
}

func TestRedeemRestoresLedgerWhenDeliveryFails(t *testing.T) {
	h := successfulSale(t)
	h.endSale()
	if _, err := h.engine.GetToken(h.ctx, operator, tokenRef); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	_, err := h.engine.Redeem(h.ctx, buyerA)
	expectErr(t, err, ErrAssetTransferFailed)

	owed, _ := h.engine.Purchased(buyerA)
	expectAmount(t, "owed after failed delivery", owed, tokens(150))
	acc, _ := h.engine.Account(buyerA)
	if acc.Settlement != SettlementNone {
		t.Fatalf("settlement must be restored, got %s", acc.Settlement)
	}
	sale, _ := h.engine.Sale()
	expectAmount(t, "outstanding", sale.Outstanding, tokens(200))

	h.mint(tokenRef, custody, tokens(150))
	if _, err := h.engine.Redeem(h.ctx, buyerA); err != nil {
		t.Fatalf("redeem after top-up: %v", err)
	}
}

func TestPaymentSweepBlocksLaterRefunds(t *testing.T) {
	h := failedSale(t)
	h.endSale()

	swept, err := h.engine.GetToken(h.ctx, operator, usdRef)
	if err != nil {
		t.Fatalf("sweep usd: %v", err)
	}
	expectAmount(t, "swept usd", swept, tokens(12))

	_, err = h.engine.Refund(h.ctx, buyerB)
	expectErr(t, err, ErrAssetTransferFailed)
	acc, _ := h.engine.Account(buyerB)
	expectAmount(t, "usd deposit kept", acc.Deposit(1), tokens(7))
	expectAmount(t, "tokens kept", acc.Tokens, tokens(40))
	if acc.Settlement != SettlementNone {
		t.Fatalf("settlement must stay open, got %s", acc.Settlement)
	}

	h.mint(usdRef, custody, tokens(7))
	paid, err := h.engine.Refund(h.ctx, buyerB)
	if err != nil {
		t.Fatalf("refund after refunding custody: %v", err)
	}
	expectAmount(t, "usd refunded", paid[1], tokens(7))
	expectAmount(t, "buyerB usd", h.balance(usdRef, buyerB), tokens(100))
}

func TestRefundRestoresUnpaidDeposits(t *testing.T) {
	h := failedSale(t)
	h.endSale()

	h.setHook(usdRef, func(_ context.Context, from, to common.Address, _ *big.Int) error {
		if from == custody && to == buyerA {
			return errors.New("usd paused")
		}
		return nil
	})
	_, err := h.engine.Refund(h.ctx, buyerA)
	expectErr(t, err, ErrAssetTransferFailed)

	expectAmount(t, "native paid back", h.balance(NativeCurrency, buyerA), tokens(100))
	acc, _ := h.engine.Account(buyerA)
	expectAmount(t, "native deposit", acc.Deposit(0), big.NewInt(0))
	expectAmount(t, "usd deposit", acc.Deposit(1), tokens(5))
	if acc.Settlement != SettlementNone {
		t.Fatalf("settlement must reopen while deposits remain, got %s", acc.Settlement)
	}
	if acc.Tokens.Sign() != 0 {
		t.Fatalf("token claim is forfeited once a deposit was paid back, got %s", acc.Tokens)
	}

	h.setHook(usdRef, nil)
	paid, err := h.engine.Refund(h.ctx, buyerA)
	if err != nil {
		t.Fatalf("retry refund: %v", err)
	}
	expectAmount(t, "native retry", paid[0], big.NewInt(0))
	expectAmount(t, "usd retry", paid[1], tokens(5))
	expectAmount(t, "buyer usd", h.balance(usdRef, buyerA), tokens(100))
}

func TestRefundFirstTransferFailureRestoresEverything(t *testing.T) {
	h := failedSale(t)
	h.endSale()

	h.setHook(usdRef, func(context.Context, common.Address, common.Address, *big.Int) error {
		return errors.New("usd paused")
	})
	_, err := h.engine.Refund(h.ctx, buyerB)
	expectErr(t, err, ErrAssetTransferFailed)

	acc, _ := h.engine.Account(buyerB)
	expectAmount(t, "usd deposit", acc.Deposit(1), tokens(7))
	expectAmount(t, "tokens", acc.Tokens, tokens(40))
	sale, _ := h.engine.Sale()
	expectAmount(t, "outstanding", sale.Outstanding, tokens(90))
}

func TestReentrantRefundCannotDoubleSpend(t *testing.T) {
	h := failedSale(t)
	h.endSale()

	var inner error
	calls := 0
	h.setHook(NativeCurrency, func(ctx context.Context, from, to common.Address, _ *big.Int) error {
		if from != custody || to != buyerA || calls > 0 {
			return nil
		}
		calls++
		_, inner = h.engine.Refund(ctx, buyerA)
		return nil
	})

	if _, err := h.engine.Refund(h.ctx, buyerA); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one reentrant call, got %d", calls)
	}
	expectErr(t, inner, ErrNothingToRefund)
	expectAmount(t, "buyer native", h.balance(NativeCurrency, buyerA), tokens(100))
	expectAmount(t, "buyer usd", h.balance(usdRef, buyerA), tokens(100))
}

func TestReentrantRedeemCannotDoubleSpend(t *testing.T) {
	h := successfulSale(t)
	h.endSale()

	var inner error
	calls := 0
	h.setHook(tokenRef, func(ctx context.Context, from, to common.Address, _ *big.Int) error {
		if to != buyerA || calls > 0 {
			return nil
		}
		calls++
		_, inner = h.engine.Redeem(ctx, buyerA)
		return nil
	})

	if _, err := h.engine.Redeem(h.ctx, buyerA); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	expectErr(t, inner, ErrNothingToRedeem)
	expectAmount(t, "buyer token", h.balance(tokenRef, buyerA), tokens(150))
}
