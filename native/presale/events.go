package presale

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/core/types"
)

const (
	EventTypeInitialized        = "presale.initialized"
	EventTypeRoleGranted        = "presale.role.granted"
	EventTypeRoleRevoked        = "presale.role.revoked"
	EventTypePaymentMethodAdded = "presale.payment_method.added"
	EventTypePriceUpdated       = "presale.price.updated"
	EventTypeStarted            = "presale.started"
	EventTypeEndExtended        = "presale.end_extended"
	EventTypePurchased          = "presale.purchased"
	EventTypeRedeemed           = "presale.redeemed"
	EventTypeRefunded           = "presale.refunded"
	EventTypeSwept              = "presale.swept"
)

func newInitializedEvent(admin common.Address, cfg Config) *types.Event {
	return &types.Event{Type: EventTypeInitialized, Attributes: map[string]string{
		"admin":         admin.Hex(),
		"token":         cfg.Token.Hex(),
		"tokenDecimals": strconv.FormatUint(uint64(cfg.TokenDecimals), 10),
		"softCap":       cloneBigInt(cfg.SoftCap).String(),
		"duration":      strconv.FormatInt(cfg.Duration, 10),
		"custody":       cfg.Custody.Hex(),
	}}
}

func newRoleEvent(eventType string, role Role, account, caller common.Address) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"role":    string(role),
		"account": account.Hex(),
		"caller":  caller.Hex(),
	}}
}

func newPaymentMethodAddedEvent(caller common.Address, method PaymentMethod) *types.Event {
	return &types.Event{Type: EventTypePaymentMethodAdded, Attributes: map[string]string{
		"index":     strconv.FormatUint(uint64(method.Index), 10),
		"reference": method.Reference.Hex(),
		"native":    strconv.FormatBool(method.IsNative()),
		"caller":    caller.Hex(),
	}}
}

func newPriceUpdatedEvent(caller common.Address, price *big.Int) *types.Event {
	return &types.Event{Type: EventTypePriceUpdated, Attributes: map[string]string{
		"price":  cloneBigInt(price).String(),
		"caller": caller.Hex(),
	}}
}

func newStartedEvent(caller common.Address, sale *Sale) *types.Event {
	return &types.Event{Type: EventTypeStarted, Attributes: map[string]string{
		"startTime": strconv.FormatInt(sale.StartTime, 10),
		"endTime":   strconv.FormatInt(sale.EndTime, 10),
		"caller":    caller.Hex(),
	}}
}

func newEndExtendedEvent(caller common.Address, previous, next int64) *types.Event {
	return &types.Event{Type: EventTypeEndExtended, Attributes: map[string]string{
		"previousEndTime": strconv.FormatInt(previous, 10),
		"endTime":         strconv.FormatInt(next, 10),
		"caller":          caller.Hex(),
	}}
}

func newPurchasedEvent(r *Receipt) *types.Event {
	return &types.Event{Type: EventTypePurchased, Attributes: map[string]string{
		"buyer":         r.Buyer.Hex(),
		"methodIndex":   strconv.FormatUint(uint64(r.PaymentMethod.Index), 10),
		"method":        r.PaymentMethod.Reference.Hex(),
		"paymentAmount": r.PaymentAmount.String(),
		"tokenAmount":   r.TokenAmount.String(),
		"totalSold":     r.TotalSold.String(),
		"authorizer":    r.Authorizer.Hex(),
		"timestamp":     strconv.FormatInt(r.Timestamp, 10),
	}}
}

func newRedeemedEvent(buyer common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRedeemed, Attributes: map[string]string{
		"buyer":       buyer.Hex(),
		"tokenAmount": amount.String(),
	}}
}

func newRefundedEvent(buyer common.Address, methods []PaymentMethod, deposits []*big.Int, forfeited *big.Int) *types.Event {
	attrs := map[string]string{
		"buyer":           buyer.Hex(),
		"forfeitedTokens": forfeited.String(),
	}
	var paid []string
	for i, amount := range deposits {
		if amount.Sign() == 0 || i >= len(methods) {
			continue
		}
		paid = append(paid, methods[i].Reference.Hex()+":"+amount.String())
	}
	attrs["deposits"] = strings.Join(paid, ",")
	return &types.Event{Type: EventTypeRefunded, Attributes: attrs}
}

func newSweptEvent(caller, asset common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeSwept, Attributes: map[string]string{
		"asset":  asset.Hex(),
		"amount": amount.String(),
		"caller": caller.Hex(),
	}}
}
