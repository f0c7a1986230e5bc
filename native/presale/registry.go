package presale

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AddPaymentMethod appends a new accepted instrument and returns its index.
func (e *Engine) AddPaymentMethod(ctx context.Context, caller common.Address, reference common.Address) (uint32, error) {
	_, release := e.enter(ctx)
	defer release()

	if err := e.requireRole(RoleOperator, caller); err != nil {
		return 0, err
	}
	if reference == (common.Address{}) || reference == e.cfg.Token {
		return 0, ErrInvalidPaymentMethod
	}
	sale, err := e.loadSale()
	if err != nil {
		return 0, err
	}
	if _, exists := sale.methodByReference(reference); exists {
		return 0, ErrDuplicatePaymentMethod
	}
	if _, err := e.assets.Asset(reference); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPaymentMethod, err)
	}
	method := PaymentMethod{Index: uint32(len(sale.PaymentMethods)), Reference: reference}
	sale.PaymentMethods = append(sale.PaymentMethods, method)
	if err := e.store.PresaleCommit(&Batch{Sale: sale}); err != nil {
		return 0, err
	}
	e.emit(newPaymentMethodAddedEvent(caller, method))
	return method.Index, nil
}

// PaymentMethods returns the registered methods in index order.
func (e *Engine) PaymentMethods() ([]PaymentMethod, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	return append([]PaymentMethod(nil), sale.PaymentMethods...), nil
}

// ResolvePaymentMethod looks a method up by index.
func (e *Engine) ResolvePaymentMethod(index uint32) (PaymentMethod, error) {
	sale, err := e.loadSale()
	if err != nil {
		return PaymentMethod{}, err
	}
	if int(index) >= len(sale.PaymentMethods) {
		return PaymentMethod{}, ErrUnknownPaymentMethod
	}
	return sale.PaymentMethods[index], nil
}

// PaymentMethodByReference looks a method up by its reference.
func (e *Engine) PaymentMethodByReference(reference common.Address) (PaymentMethod, error) {
	sale, err := e.loadSale()
	if err != nil {
		return PaymentMethod{}, err
	}
	method, ok := sale.methodByReference(reference)
	if !ok {
		return PaymentMethod{}, ErrUnknownPaymentMethod
	}
	return method, nil
}
