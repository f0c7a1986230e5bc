package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"tokensale/crypto"
	"tokensale/native/presale"
)

const requestBodyLimit = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body required", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, fmt.Errorf("%w: %s required", errBadRequest, field)
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return addr, nil
}

// parseAsset accepts the "native" and "token" aliases besides plain
// addresses.
func (s *Server) parseAsset(field, raw string) (common.Address, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "native":
		return presale.NativeCurrency, nil
	case "token":
		return s.rt.Engine.Config().Token, nil
	}
	return parseAddress(field, raw)
}

// parseAmount reads a non-negative base-10 integer. Empty input is zero when
// optional is set.
func parseAmount(field, raw string, optional bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if optional {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("%w: %s required", errBadRequest, field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s: invalid integer %q", errBadRequest, field, raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", errBadRequest, field)
	}
	return amount, nil
}

func parseSignature(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: signature required", errBadRequest)
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}
	sig, err := hexutil.Decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", errBadRequest, err)
	}
	return sig, nil
}

func parseQueryUint(r *http.Request, key string) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return v, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type methodView struct {
	Index     uint32 `json:"index"`
	Reference string `json:"reference"`
	Asset     string `json:"asset"`
	Native    bool   `json:"native"`
}

func newMethodView(m presale.PaymentMethod) methodView {
	return methodView{
		Index:     m.Index,
		Reference: m.Reference.Hex(),
		Asset:     crypto.AssetAddress(m.Reference),
		Native:    m.IsNative(),
	}
}

type saleView struct {
	Phase           string       `json:"phase"`
	StartTime       int64        `json:"start_time"`
	EndTime         int64        `json:"end_time"`
	Token           string       `json:"token"`
	TokenDecimals   uint8        `json:"token_decimals"`
	Custody         string       `json:"custody"`
	SoftCap         string       `json:"soft_cap"`
	SoftCapReached  bool         `json:"soft_cap_reached"`
	MinimumPurchase string       `json:"minimum_purchase"`
	TotalSold       string       `json:"total_sold"`
	Outstanding     string       `json:"outstanding"`
	RemainingSupply string       `json:"remaining_supply"`
	Price           string       `json:"price,omitempty"`
	PaymentMethods  []methodView `json:"payment_methods"`
	Paused          bool         `json:"paused"`
}

type depositView struct {
	Index     uint32 `json:"index"`
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
}

type accountView struct {
	Address    string        `json:"address"`
	Display    string        `json:"display"`
	Tokens     string        `json:"tokens"`
	Deposits   []depositView `json:"deposits"`
	Settlement string        `json:"settlement"`
}

func newAccountView(acc *presale.Account, methods []presale.PaymentMethod) accountView {
	view := accountView{
		Address:    acc.Address.Hex(),
		Display:    crypto.SaleAddress(acc.Address),
		Tokens:     amountString(acc.Tokens),
		Settlement: acc.Settlement.String(),
		Deposits:   make([]depositView, 0, len(methods)),
	}
	for _, m := range methods {
		view.Deposits = append(view.Deposits, depositView{
			Index:     m.Index,
			Reference: m.Reference.Hex(),
			Amount:    acc.Deposit(m.Index).String(),
		})
	}
	return view
}

type receiptView struct {
	Buyer         string     `json:"buyer"`
	PaymentMethod methodView `json:"payment_method"`
	PaymentAmount string     `json:"payment_amount"`
	TokenAmount   string     `json:"token_amount"`
	TotalSold     string     `json:"total_sold"`
	Authorizer    string     `json:"authorizer"`
	Timestamp     int64      `json:"timestamp"`
}

func newReceiptView(r *presale.Receipt) receiptView {
	return receiptView{
		Buyer:         r.Buyer.Hex(),
		PaymentMethod: newMethodView(r.PaymentMethod),
		PaymentAmount: amountString(r.PaymentAmount),
		TokenAmount:   amountString(r.TokenAmount),
		TotalSold:     amountString(r.TotalSold),
		Authorizer:    r.Authorizer.Hex(),
		Timestamp:     r.Timestamp,
	}
}
