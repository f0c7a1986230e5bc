package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/core/events"
	"tokensale/core/types"
)

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrInvalidAmount         = errors.New("bank: invalid amount")
	ErrInvalidAddress        = errors.New("bank: invalid address")

	errNilState = errors.New("bank: state not configured")
)

// Balance is a single balance record.
type Balance struct {
	Asset  common.Address
	Holder common.Address
	Amount *big.Int
}

// Allowance is a single spending allowance record.
type Allowance struct {
	Asset   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

// Batch groups the writes produced by one ledger operation.
type Batch struct {
	Balances   []Balance
	Allowances []Allowance
}

// State persists balances and allowances.
type State interface {
	BankBalance(asset, holder common.Address) (*big.Int, error)
	BankAllowance(asset, owner, spender common.Address) (*big.Int, error)
	BankCommit(batch *Batch) error
}

type bankEvent struct {
	evt *types.Event
}

func (e bankEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bankEvent) Event() *types.Event { return e.evt }

// Ledger is an in-process multi-asset custody ledger. Every asset, the
// native currency included, is keyed by its 20-byte reference.
type Ledger struct {
	mu      sync.Mutex
	state   State
	emitter events.Emitter
}

// NewLedger returns a ledger backed by state.
func NewLedger(state State) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil discards events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt *types.Event) {
	if l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(bankEvent{evt: evt})
}

// Balance returns the holder's balance of asset.
func (l *Ledger) Balance(asset, holder common.Address) (*big.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	return l.balance(asset, holder)
}

// Allowance returns how much spender may move out of owner's balance.
func (l *Ledger) Allowance(asset, owner, spender common.Address) (*big.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	amount, err := l.state.BankAllowance(asset, owner, spender)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(amount), nil
}

// Mint credits newly issued units of asset to holder.
func (l *Ledger) Mint(_ context.Context, asset, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return errNilState
	}
	current, err := l.balance(asset, to)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(current, amount)
	if err := l.state.BankCommit(&Batch{Balances: []Balance{{Asset: asset, Holder: to, Amount: next}}}); err != nil {
		return err
	}
	l.emit(newMintEvent(asset, to, amount))
	return nil
}

// Approve sets the allowance of spender over owner's balance of asset.
func (l *Ledger) Approve(_ context.Context, asset, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return errNilState
	}
	record := Allowance{Asset: asset, Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)}
	if err := l.state.BankCommit(&Batch{Allowances: []Allowance{record}}); err != nil {
		return err
	}
	l.emit(newApprovalEvent(asset, owner, spender, amount))
	return nil
}

// Transfer moves amount of asset from one holder to another.
func (l *Ledger) Transfer(_ context.Context, asset, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return errNilState
	}
	batch, err := l.move(asset, from, to, amount)
	if err != nil {
		return err
	}
	if err := l.state.BankCommit(batch); err != nil {
		return err
	}
	l.emit(newTransferEvent(asset, from, to, amount))
	return nil
}

// TransferFrom moves amount of asset out of from on behalf of spender,
// consuming the allowance unless spender is the owner.
func (l *Ledger) TransferFrom(_ context.Context, asset, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return errNilState
	}
	batch, err := l.move(asset, from, to, amount)
	if err != nil {
		return err
	}
	if spender != from {
		allowance, err := l.state.BankAllowance(asset, from, spender)
		if err != nil {
			return err
		}
		allowance = cloneBigInt(allowance)
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
		}
		batch.Allowances = append(batch.Allowances, Allowance{
			Asset:   asset,
			Owner:   from,
			Spender: spender,
			Amount:  new(big.Int).Sub(allowance, amount),
		})
	}
	if err := l.state.BankCommit(batch); err != nil {
		return err
	}
	l.emit(newTransferEvent(asset, from, to, amount))
	return nil
}

func (l *Ledger) move(asset, from, to common.Address, amount *big.Int) (*Batch, error) {
	fromBal, err := l.balance(asset, from)
	if err != nil {
		return nil, err
	}
	if fromBal.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	if from == to {
		return &Batch{}, nil
	}
	toBal, err := l.balance(asset, to)
	if err != nil {
		return nil, err
	}
	return &Batch{Balances: []Balance{
		{Asset: asset, Holder: from, Amount: new(big.Int).Sub(fromBal, amount)},
		{Asset: asset, Holder: to, Amount: new(big.Int).Add(toBal, amount)},
	}}, nil
}

func (l *Ledger) balance(asset, holder common.Address) (*big.Int, error) {
	amount, err := l.state.BankBalance(asset, holder)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(amount), nil
}

// Handle returns an asset-bound view of the ledger.
func (l *Ledger) Handle(asset common.Address) *Handle {
	return &Handle{ledger: l, asset: asset}
}

// Handle exposes one asset of the ledger through the balance and transfer
// methods expected of a token.
type Handle struct {
	ledger *Ledger
	asset  common.Address
}

// Reference returns the asset reference bound to the handle.
func (h *Handle) Reference() common.Address { return h.asset }

func (h *Handle) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	return h.ledger.Balance(h.asset, holder)
}

func (h *Handle) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return h.ledger.Transfer(ctx, h.asset, from, to, amount)
}

func (h *Handle) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	return h.ledger.TransferFrom(ctx, h.asset, spender, from, to, amount)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
