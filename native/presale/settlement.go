package presale

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Redeem delivers the buyer's purchased tokens once the sale has ended. It is
// available whether or not the soft cap was reached; a buyer settles through
// either Redeem or Refund, never both. The ledger is zeroed and committed
// before the token transfer; a failed transfer restores it.
func (e *Engine) Redeem(ctx context.Context, buyer common.Address) (*big.Int, error) {
	ctx, release := e.enter(ctx)
	defer release()

	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	if PhaseAt(sale.StartTime, sale.EndTime, e.now()) != PhaseEnded {
		return nil, ErrSaleNotEnded
	}
	acc, err := e.loadAccount(buyer)
	if err != nil {
		return nil, err
	}
	if acc.Settlement == SettlementRefunded {
		return nil, ErrAlreadySettled
	}
	if acc.Tokens.Sign() <= 0 {
		return nil, ErrNothingToRedeem
	}

	owed := new(big.Int).Set(acc.Tokens)
	previous := acc.Settlement
	acc.Tokens = big.NewInt(0)
	acc.Settlement = SettlementRedeemed
	sale.Outstanding = subFloor(sale.Outstanding, owed)
	if err := e.store.PresaleCommit(&Batch{Sale: sale, Accounts: []*Account{acc}}); err != nil {
		return nil, err
	}

	token, err := e.assets.Asset(e.cfg.Token)
	if err == nil {
		err = token.Transfer(ctx, e.cfg.Custody, buyer, owed)
	}
	if err != nil {
		if restoreErr := e.restoreRedemption(buyer, owed, previous); restoreErr != nil {
			return nil, fmt.Errorf("%w: %v (restore failed: %v)", ErrAssetTransferFailed, err, restoreErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrAssetTransferFailed, err)
	}
	e.emit(newRedeemedEvent(buyer, owed))
	return owed, nil
}

func (e *Engine) restoreRedemption(buyer common.Address, owed *big.Int, previous SettlementKind) error {
	sale, err := e.loadSale()
	if err != nil {
		return err
	}
	acc, err := e.loadAccount(buyer)
	if err != nil {
		return err
	}
	acc.Tokens = new(big.Int).Add(acc.Tokens, owed)
	acc.Settlement = previous
	sale.Outstanding = new(big.Int).Add(sale.Outstanding, owed)
	return e.store.PresaleCommit(&Batch{Sale: sale, Accounts: []*Account{acc}})
}

// Refund returns every deposit of the buyer once the sale has ended below the
// soft cap. Deposits are paid back in method index order after the zeroed
// ledger is committed. If a transfer fails, the deposits not yet paid back
// are restored and the error is returned.
func (e *Engine) Refund(ctx context.Context, buyer common.Address) ([]*big.Int, error) {
	ctx, release := e.enter(ctx)
	defer release()

	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	if PhaseAt(sale.StartTime, sale.EndTime, e.now()) != PhaseEnded {
		return nil, ErrSaleNotEnded
	}
	if sale.TotalSold.Cmp(e.cfg.SoftCap) >= 0 {
		return nil, ErrSoftCapReached
	}
	acc, err := e.loadAccount(buyer)
	if err != nil {
		return nil, err
	}
	if acc.Settlement == SettlementRedeemed {
		return nil, ErrAlreadySettled
	}
	if !acc.HasDeposits() {
		return nil, ErrNothingToRefund
	}

	deposits := make([]*big.Int, len(sale.PaymentMethods))
	for i := range deposits {
		deposits[i] = acc.Deposit(uint32(i))
	}
	forfeited := new(big.Int).Set(acc.Tokens)
	acc.Deposits = nil
	acc.Tokens = big.NewInt(0)
	acc.Settlement = SettlementRefunded
	sale.Outstanding = subFloor(sale.Outstanding, forfeited)
	if err := e.store.PresaleCommit(&Batch{Sale: sale, Accounts: []*Account{acc}}); err != nil {
		return nil, err
	}

	for i, amount := range deposits {
		if amount.Sign() == 0 {
			continue
		}
		method := sale.PaymentMethods[i]
		asset, err := e.assets.Asset(method.Reference)
		if err == nil {
			err = asset.Transfer(ctx, e.cfg.Custody, buyer, amount)
		}
		if err != nil {
			var restoreTokens *big.Int
			if !anyPaid(deposits[:i]) {
				restoreTokens = forfeited
			}
			if restoreErr := e.restoreRefund(buyer, deposits, i, restoreTokens); restoreErr != nil {
				return nil, fmt.Errorf("%w: %v (restore failed: %v)", ErrAssetTransferFailed, err, restoreErr)
			}
			return nil, fmt.Errorf("%w: %v", ErrAssetTransferFailed, err)
		}
	}
	e.emit(newRefundedEvent(buyer, sale.PaymentMethods, deposits, forfeited))
	return deposits, nil
}

// restoreRefund puts back the deposits from index from onwards. Tokens are
// only restored when nothing was paid back.
func (e *Engine) restoreRefund(buyer common.Address, deposits []*big.Int, from int, tokens *big.Int) error {
	sale, err := e.loadSale()
	if err != nil {
		return err
	}
	acc, err := e.loadAccount(buyer)
	if err != nil {
		return err
	}
	for i := from; i < len(deposits); i++ {
		if deposits[i].Sign() > 0 {
			acc.credit(uint32(i), deposits[i])
		}
	}
	if tokens != nil && tokens.Sign() > 0 {
		acc.Tokens = new(big.Int).Add(acc.Tokens, tokens)
		sale.Outstanding = new(big.Int).Add(sale.Outstanding, tokens)
	}
	if acc.HasDeposits() {
		acc.Settlement = SettlementNone
	}
	return e.store.PresaleCommit(&Batch{Sale: sale, Accounts: []*Account{acc}})
}

// GetToken sweeps the custody's entire balance of asset to the caller. The
// presale token can only be swept after the sale has ended. The sweep does
// not consult the ledger: sweeping a payment asset before refunds complete
// makes later Refund calls fail with ErrAssetTransferFailed until the custody
// is funded again.
func (e *Engine) GetToken(ctx context.Context, caller common.Address, asset common.Address) (*big.Int, error) {
	ctx, release := e.enter(ctx)
	defer release()

	if err := e.requireRole(RoleOperator, caller); err != nil {
		return nil, err
	}
	if asset == e.cfg.Token {
		sale, err := e.loadSale()
		if err != nil {
			return nil, err
		}
		if PhaseAt(sale.StartTime, sale.EndTime, e.now()) != PhaseEnded {
			return nil, ErrSaleNotEnded
		}
	}
	handle, err := e.assets.Asset(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetTransferFailed, err)
	}
	balance, err := handle.BalanceOf(ctx, e.cfg.Custody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetTransferFailed, err)
	}
	amount := cloneBigInt(balance)
	if amount.Sign() > 0 {
		if err := handle.Transfer(ctx, e.cfg.Custody, caller, amount); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAssetTransferFailed, err)
		}
	}
	e.emit(newSweptEvent(caller, asset, amount))
	return amount, nil
}

func anyPaid(deposits []*big.Int) bool {
	for _, d := range deposits {
		if d.Sign() > 0 {
			return true
		}
	}
	return false
}

func subFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(cloneBigInt(a), b)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}
