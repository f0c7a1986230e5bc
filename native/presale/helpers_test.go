package presale

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tokensale/core/events"
	"tokensale/native/bank"
	bankstate "tokensale/state/bank"
	"tokensale/storage"
)

const testStart = int64(1_700_000_000)

var (
	tokenRef   = common.HexToAddress("0x00000000000000000000000000000000000070ce")
	usdRef     = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	foreignRef = common.HexToAddress("0x000000000000000000000000000000000000f0f0")
	custody    = common.HexToAddress("0x000000000000000000000000000000000000c057")
	operator   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	buyerA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyerB     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	stranger   = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type memStore struct {
	mu         sync.Mutex
	sale       *Sale
	accounts   map[common.Address]*Account
	roles      map[Role][]common.Address
	failCommit error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[common.Address]*Account),
		roles:    make(map[Role][]common.Address),
	}
}

func (s *memStore) PresaleSale() (*Sale, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sale == nil {
		return nil, false, nil
	}
	return s.sale.Clone(), true, nil
}

func (s *memStore) PresaleAccount(addr common.Address) (*Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[addr]
	if !ok {
		return nil, false, nil
	}
	return acc.Clone(), true, nil
}

func (s *memStore) PresaleRoleMembers(role Role) ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Address(nil), s.roles[role]...), nil
}

func (s *memStore) PresaleAccounts(fn func(*Account) bool) error {
	s.mu.Lock()
	keys := make([]common.Address, 0, len(s.accounts))
	for k := range s.accounts {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Hex() < keys[j].Hex() })
	for _, k := range keys {
		acc, _, _ := s.PresaleAccount(k)
		if !fn(acc) {
			return nil
		}
	}
	return nil
}

func (s *memStore) PresaleCommit(batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommit != nil {
		return s.failCommit
	}
	if batch.Sale != nil {
		s.sale = batch.Sale.Clone()
	}
	for _, acc := range batch.Accounts {
		s.accounts[acc.Address] = acc.Clone()
	}
	for role, members := range batch.Roles {
		s.roles[role] = append([]common.Address(nil), members...)
	}
	return nil
}

type transferHook func(ctx context.Context, from, to common.Address, amount *big.Int) error

type hookAsset struct {
	Asset
	hook transferHook
}

func (a *hookAsset) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := a.hook(ctx, from, to, amount); err != nil {
		return err
	}
	return a.Asset.Transfer(ctx, from, to, amount)
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	engine     *Engine
	store      *memStore
	ledger     *bank.Ledger
	recorder   *events.Recorder
	now        int64
	authKey    *ecdsa.PrivateKey
	authorizer common.Address
	hooksMu    sync.Mutex
	hooks      map[common.Address]transferHook
}

func newHarness(t *testing.T, softCap, supply *big.Int) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		store:    newMemStore(),
		ledger:   bank.NewLedger(bankstate.NewStore(storage.NewMemDB())),
		recorder: &events.Recorder{},
		now:      testStart,
		hooks:    make(map[common.Address]transferHook),
	}
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	h.authKey = key
	h.authorizer = ethcrypto.PubkeyToAddress(key.PublicKey)

	resolver := AssetResolverFunc(func(ref common.Address) (Asset, error) {
		handle := h.ledger.Handle(ref)
		h.hooksMu.Lock()
		hook := h.hooks[ref]
		h.hooksMu.Unlock()
		if hook != nil {
			return &hookAsset{Asset: handle, hook: hook}, nil
		}
		return handle, nil
	})
	cfg := Config{
		Token:         tokenRef,
		TokenDecimals: 18,
		SoftCap:       softCap,
		Duration:      DefaultDuration,
		Custody:       custody,
	}
	engine, err := NewEngine(cfg, h.store, resolver)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetNowFunc(func() int64 { return h.now })
	engine.SetEmitter(h.recorder)
	h.engine = engine

	if err := engine.Initialize(h.ctx, operator); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Grant(h.ctx, operator, RoleAuthorizer, h.authorizer); err != nil {
		t.Fatalf("grant authorizer: %v", err)
	}
	if idx, err := engine.AddPaymentMethod(h.ctx, operator, NativeCurrency); err != nil || idx != 0 {
		t.Fatalf("add native method: idx=%d err=%v", idx, err)
	}
	if idx, err := engine.AddPaymentMethod(h.ctx, operator, usdRef); err != nil || idx != 1 {
		t.Fatalf("add usd method: idx=%d err=%v", idx, err)
	}
	if supply != nil && supply.Sign() > 0 {
		h.mint(tokenRef, custody, supply)
	}
	return h
}

func (h *harness) setHook(ref common.Address, hook transferHook) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	if hook == nil {
		delete(h.hooks, ref)
		return
	}
	h.hooks[ref] = hook
}

func (h *harness) mint(asset, to common.Address, amount *big.Int) {
	h.t.Helper()
	if err := h.ledger.Mint(h.ctx, asset, to, amount); err != nil {
		h.t.Fatalf("mint: %v", err)
	}
}

// fund gives the buyer native and usd balances and approves custody for usd.
func (h *harness) fund(buyer common.Address, amount *big.Int) {
	h.t.Helper()
	h.mint(NativeCurrency, buyer, amount)
	h.mint(usdRef, buyer, amount)
	if err := h.ledger.Approve(h.ctx, usdRef, buyer, custody, amount); err != nil {
		h.t.Fatalf("approve: %v", err)
	}
}

func (h *harness) start() {
	h.t.Helper()
	if _, err := h.engine.Start(h.ctx, operator); err != nil {
		h.t.Fatalf("start: %v", err)
	}
}

func (h *harness) endSale() {
	sale, err := h.engine.Sale()
	if err != nil {
		h.t.Fatalf("sale: %v", err)
	}
	h.now = sale.EndTime
}

func (h *harness) request(method common.Address, pay, tok *big.Int, expiry int64) PurchaseRequest {
	h.t.Helper()
	return h.requestSignedBy(h.authKey, method, pay, tok, expiry)
}

func (h *harness) requestSignedBy(key *ecdsa.PrivateKey, method common.Address, pay, tok *big.Int, expiry int64) PurchaseRequest {
	h.t.Helper()
	sig, err := SignAuthorization(key, method, pay, tok, big.NewInt(expiry))
	if err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return PurchaseRequest{
		PaymentMethod: method,
		PaymentAmount: new(big.Int).Set(pay),
		TokenAmount:   new(big.Int).Set(tok),
		Expiry:        big.NewInt(expiry),
		Signature:     sig,
	}
}

func (h *harness) buy(buyer common.Address, value *big.Int, req PurchaseRequest) (*Receipt, error) {
	return h.engine.Buy(h.ctx, buyer, value, req)
}

func (h *harness) mustBuy(buyer common.Address, method common.Address, pay, tok *big.Int) *Receipt {
	h.t.Helper()
	value := big.NewInt(0)
	if method == NativeCurrency {
		value = pay
	}
	receipt, err := h.buy(buyer, value, h.request(method, pay, tok, h.now+3600))
	if err != nil {
		h.t.Fatalf("buy: %v", err)
	}
	return receipt
}

func (h *harness) balance(asset, holder common.Address) *big.Int {
	h.t.Helper()
	bal, err := h.ledger.Balance(asset, holder)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func expectAmount(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got == nil || got.Cmp(want) != 0 {
		t.Fatalf("%s = %v, want %s", label, got, want)
	}
}
