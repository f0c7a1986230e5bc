package presale

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAddPaymentMethodValidation(t *testing.T) {
	h := newHarness(t, tokens(10), tokens(10))

	_, err := h.engine.AddPaymentMethod(h.ctx, stranger, foreignRef)
	expectErr(t, err, ErrAccessDenied)
	_, err = h.engine.AddPaymentMethod(h.ctx, operator, common.Address{})
	expectErr(t, err, ErrInvalidPaymentMethod)
	_, err = h.engine.AddPaymentMethod(h.ctx, operator, tokenRef)
	expectErr(t, err, ErrInvalidPaymentMethod)
	_, err = h.engine.AddPaymentMethod(h.ctx, operator, usdRef)
	expectErr(t, err, ErrDuplicatePaymentMethod)

	idx, err := h.engine.AddPaymentMethod(h.ctx, operator, foreignRef)
	if err != nil || idx != 2 {
		t.Fatalf("add foreign: idx=%d err=%v", idx, err)
	}
	methods, err := h.engine.PaymentMethods()
	if err != nil {
		t.Fatalf("methods: %v", err)
	}
	want := []PaymentMethod{{0, NativeCurrency}, {1, usdRef}, {2, foreignRef}}
	if len(methods) != len(want) {
		t.Fatalf("unexpected methods %v", methods)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Fatalf("method %d = %+v, want %+v", i, methods[i], want[i])
		}
	}
	if !methods[0].IsNative() || methods[1].IsNative() {
		t.Fatalf("native flag mismatch")
	}
}

func TestResolvePaymentMethod(t *testing.T) {
	h := newHarness(t, tokens(10), tokens(10))

	m, err := h.engine.ResolvePaymentMethod(1)
	if err != nil || m.Reference != usdRef {
		t.Fatalf("resolve 1: %+v %v", m, err)
	}
	_, err = h.engine.ResolvePaymentMethod(9)
	expectErr(t, err, ErrUnknownPaymentMethod)

	m, err = h.engine.PaymentMethodByReference(NativeCurrency)
	if err != nil || m.Index != 0 {
		t.Fatalf("by reference: %+v %v", m, err)
	}
	_, err = h.engine.PaymentMethodByReference(foreignRef)
	expectErr(t, err, ErrUnknownPaymentMethod)
}

func TestAddPaymentMethodRequiresResolvableAsset(t *testing.T) {
	store := newMemStore()
	resolver := AssetResolverFunc(func(common.Address) (Asset, error) { return nil, errors.New("no such asset") })
	cfg := Config{Token: tokenRef, TokenDecimals: 18, SoftCap: tokens(1), Duration: DefaultDuration, Custody: custody}
	engine, err := NewEngine(cfg, store, resolver)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Initialize(context.Background(), operator); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	_, err = engine.AddPaymentMethod(context.Background(), operator, usdRef)
	expectErr(t, err, ErrInvalidPaymentMethod)
}
