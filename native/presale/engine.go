package presale

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/core/events"
	"tokensale/core/types"
	nativecommon "tokensale/native/common"
)

var (
	errNilStore  = errors.New("presale engine: store not configured")
	errNilAssets = errors.New("presale engine: asset resolver not configured")
)

type callKey struct{}

type presaleEvent struct {
	evt *types.Event
}

func (e presaleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e presaleEvent) Event() *types.Event { return e.evt }

// Engine owns the presale ledger. Mutating calls are serialised by a single
// mutex. Collaborators receive a context marked with the engine so a callback
// into the engine proceeds without re-locking and observes the ledger as
// already committed.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	store   Store
	assets  AssetResolver
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine validates cfg and returns an engine with a no-op emitter.
func NewEngine(cfg Config, store Store, assets AssetResolver) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errNilStore
	}
	if assets == nil {
		return nil, errNilAssets
	}
	cfg.SoftCap = cloneBigInt(cfg.SoftCap)
	return &Engine{
		cfg:     cfg,
		store:   store,
		assets:  assets,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the pause view consulted before purchases.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.SoftCap = cloneBigInt(e.cfg.SoftCap)
	return cfg
}

func (e *Engine) enter(ctx context.Context) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(callKey{}).(*Engine); ok && owner == e {
		return ctx, func() {}
	}
	e.mu.Lock()
	return context.WithValue(ctx, callKey{}, e), e.mu.Unlock
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(presaleEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadSale() (*Sale, error) {
	sale, ok, err := e.store.PresaleSale()
	if err != nil {
		return nil, err
	}
	if !ok || sale == nil {
		return nil, ErrNotInitialized
	}
	sale = sale.Clone()
	sale.normalize()
	return sale, nil
}

func (e *Engine) loadAccount(addr common.Address) (*Account, error) {
	acc, ok, err := e.store.PresaleAccount(addr)
	if err != nil {
		return nil, err
	}
	if !ok || acc == nil {
		return newAccount(addr), nil
	}
	acc = acc.Clone()
	acc.Address = addr
	return acc, nil
}

// Initialize creates the sale record and seeds admin as the first operator.
func (e *Engine) Initialize(ctx context.Context, admin common.Address) error {
	_, release := e.enter(ctx)
	defer release()

	if admin == (common.Address{}) {
		return ErrInvalidAddress
	}
	if _, ok, err := e.store.PresaleSale(); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInitialized
	}
	sale := &Sale{TotalSold: big.NewInt(0), Outstanding: big.NewInt(0), Price: big.NewInt(0)}
	batch := &Batch{
		Sale:  sale,
		Roles: map[Role][]common.Address{RoleOperator: {admin}},
	}
	if err := e.store.PresaleCommit(batch); err != nil {
		return err
	}
	e.emit(newInitializedEvent(admin, e.cfg))
	return nil
}

// Initialized reports whether the sale record exists.
func (e *Engine) Initialized() (bool, error) {
	_, ok, err := e.store.PresaleSale()
	return ok, err
}

// SetPrice records the display price. It does not affect authorization.
func (e *Engine) SetPrice(ctx context.Context, caller common.Address, price *big.Int) error {
	_, release := e.enter(ctx)
	defer release()

	if err := e.requireRole(RoleOperator, caller); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidAmount
	}
	sale, err := e.loadSale()
	if err != nil {
		return err
	}
	sale.Price = new(big.Int).Set(price)
	if err := e.store.PresaleCommit(&Batch{Sale: sale}); err != nil {
		return err
	}
	e.emit(newPriceUpdatedEvent(caller, sale.Price))
	return nil
}

// Buy admits a signed purchase. Preconditions are checked in a fixed order and
// the payment is pulled before the ledger is updated in one commit.
func (e *Engine) Buy(ctx context.Context, buyer common.Address, value *big.Int, req PurchaseRequest) (*Receipt, error) {
	ctx, release := e.enter(ctx)
	defer release()

	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	now := e.now()
	if PhaseAt(sale.StartTime, sale.EndTime, now) != PhaseActive {
		return nil, ErrSaleNotActive
	}
	signer, err := e.verifyAuthorization(req, now)
	if err != nil {
		return nil, err
	}
	if req.PaymentAmount.Sign() <= 0 || req.TokenAmount.Cmp(e.cfg.MinimumPurchase()) < 0 {
		return nil, ErrBelowMinimum
	}
	method, ok := sale.methodByReference(req.PaymentMethod)
	if !ok {
		return nil, ErrUnknownPaymentMethod
	}
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if method.IsNative() {
		if value.Cmp(req.PaymentAmount) != 0 {
			return nil, ErrAmountMismatch
		}
	} else if value.Sign() != 0 {
		return nil, ErrUnexpectedNativeValue
	}
	if err := e.checkSupply(ctx, sale, req.TokenAmount); err != nil {
		return nil, err
	}

	payment, err := e.assets.Asset(method.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetTransferFailed, err)
	}
	amount := new(big.Int).Set(req.PaymentAmount)
	if method.IsNative() {
		err = payment.Transfer(ctx, buyer, e.cfg.Custody, amount)
	} else {
		err = payment.TransferFrom(ctx, e.cfg.Custody, buyer, e.cfg.Custody, amount)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetTransferFailed, err)
	}

	// Reload after the outbound call in case a collaborator re-entered.
	sale, err = e.loadSale()
	if err == nil {
		err = e.checkSupply(ctx, sale, req.TokenAmount)
	}
	var acc *Account
	if err == nil {
		acc, err = e.loadAccount(buyer)
	}
	if err == nil {
		acc.credit(method.Index, amount)
		acc.Tokens = new(big.Int).Add(acc.Tokens, req.TokenAmount)
		sale.TotalSold = new(big.Int).Add(sale.TotalSold, req.TokenAmount)
		sale.Outstanding = new(big.Int).Add(sale.Outstanding, req.TokenAmount)
		err = e.store.PresaleCommit(&Batch{Sale: sale, Accounts: []*Account{acc}})
	}
	if err != nil {
		if refundErr := payment.Transfer(ctx, e.cfg.Custody, buyer, amount); refundErr != nil {
			return nil, fmt.Errorf("presale: commit purchase: %w (payment return failed: %v)", err, refundErr)
		}
		return nil, err
	}

	receipt := &Receipt{
		Buyer:         buyer,
		PaymentMethod: method,
		PaymentAmount: amount,
		TokenAmount:   new(big.Int).Set(req.TokenAmount),
		TotalSold:     new(big.Int).Set(sale.TotalSold),
		Authorizer:    signer,
		Timestamp:     now,
	}
	e.emit(newPurchasedEvent(receipt))
	return receipt, nil
}

func (e *Engine) checkSupply(ctx context.Context, sale *Sale, tokenAmount *big.Int) error {
	available, err := e.remainingSupply(ctx, sale)
	if err != nil {
		return err
	}
	if tokenAmount.Cmp(available) > 0 {
		return ErrInsufficientSupply
	}
	return nil
}

func (e *Engine) remainingSupply(ctx context.Context, sale *Sale) (*big.Int, error) {
	token, err := e.assets.Asset(e.cfg.Token)
	if err != nil {
		return nil, err
	}
	balance, err := token.BalanceOf(ctx, e.cfg.Custody)
	if err != nil {
		return nil, err
	}
	available := new(big.Int).Sub(cloneBigInt(balance), sale.Outstanding)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	return available, nil
}

// Sale returns a copy of the sale record.
func (e *Engine) Sale() (*Sale, error) {
	return e.loadSale()
}

// Account returns the ledger entry for addr. Unknown buyers yield a zero
// account.
func (e *Engine) Account(addr common.Address) (*Account, error) {
	return e.loadAccount(addr)
}

// Accounts visits every stored account in key order.
func (e *Engine) Accounts(fn func(*Account) bool) error {
	return e.store.PresaleAccounts(func(acc *Account) bool {
		return fn(acc.Clone())
	})
}

// RemainingSupply returns the custody token balance not yet owed to buyers.
func (e *Engine) RemainingSupply(ctx context.Context) (*big.Int, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	return e.remainingSupply(ctx, sale)
}

// SoftCapReached reports whether total sales have reached the soft cap.
func (e *Engine) SoftCapReached() (bool, error) {
	sale, err := e.loadSale()
	if err != nil {
		return false, err
	}
	return sale.TotalSold.Cmp(e.cfg.SoftCap) >= 0, nil
}

// Deposit returns what buyer has deposited through the method index.
func (e *Engine) Deposit(buyer common.Address, index uint32) (*big.Int, error) {
	acc, err := e.loadAccount(buyer)
	if err != nil {
		return nil, err
	}
	return acc.Deposit(index), nil
}

// Purchased returns the tokens owed to buyer.
func (e *Engine) Purchased(buyer common.Address) (*big.Int, error) {
	acc, err := e.loadAccount(buyer)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(acc.Tokens), nil
}

// TotalSold returns the running total of tokens sold.
func (e *Engine) TotalSold() (*big.Int, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(sale.TotalSold), nil
}
