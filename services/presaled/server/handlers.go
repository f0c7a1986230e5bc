package server

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tokensale/crypto"
	"tokensale/native/presale"
	telemetry "tokensale/observability/otel"
)

func (s *Server) caller(r *http.Request) common.Address {
	caller, _ := CallerFromContext(r.Context())
	return caller
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.rt.Engine.Initialized()
	if err != nil {
		s.fail(w, "health", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "initialized": initialized})
}

func (s *Server) handleSale(w http.ResponseWriter, r *http.Request) {
	engine := s.rt.Engine
	sale, err := engine.Sale()
	if err != nil {
		s.fail(w, "sale", err)
		return
	}
	remaining, err := engine.RemainingSupply(r.Context())
	if err != nil {
		s.fail(w, "sale", err)
		return
	}
	cfg := engine.Config()
	phase, err := engine.Phase()
	if err != nil {
		s.fail(w, "sale", err)
		return
	}
	view := saleView{
		Phase:           phase.String(),
		StartTime:       sale.StartTime,
		EndTime:         sale.EndTime,
		Token:           cfg.Token.Hex(),
		TokenDecimals:   cfg.TokenDecimals,
		Custody:         cfg.Custody.Hex(),
		SoftCap:         amountString(cfg.SoftCap),
		SoftCapReached:  sale.TotalSold.Cmp(cfg.SoftCap) >= 0,
		MinimumPurchase: cfg.MinimumPurchase().String(),
		TotalSold:       amountString(sale.TotalSold),
		Outstanding:     amountString(sale.Outstanding),
		RemainingSupply: amountString(remaining),
		PaymentMethods:  make([]methodView, 0, len(sale.PaymentMethods)),
		Paused:          s.rt.Pauses.IsPaused(presale.ModuleName),
	}
	if sale.Price != nil {
		view.Price = sale.Price.String()
	}
	for _, m := range sale.PaymentMethods {
		view.PaymentMethods = append(view.PaymentMethods, newMethodView(m))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, "account", err)
		return
	}
	methods, err := s.rt.Engine.PaymentMethods()
	if err != nil {
		s.fail(w, "account", err)
		return
	}
	acc, err := s.rt.Engine.Account(addr)
	if err != nil {
		s.fail(w, "account", err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc, methods))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	asset, err := s.parseAsset("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, "balance", err)
		return
	}
	holder, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, "balance", err)
		return
	}
	balance, err := s.rt.Ledger.Balance(asset, holder)
	if err != nil {
		s.fail(w, "balance", err)
		return
	}
	resp := map[string]string{
		"asset":   asset.Hex(),
		"holder":  holder.Hex(),
		"balance": balance.String(),
	}
	if raw := r.URL.Query().Get("spender"); raw != "" {
		spender, err := parseAddress("spender", raw)
		if err != nil {
			s.fail(w, "balance", err)
			return
		}
		allowance, err := s.rt.Ledger.Allowance(asset, holder, spender)
		if err != nil {
			s.fail(w, "balance", err)
			return
		}
		resp["spender"] = spender.Hex()
		resp["allowance"] = allowance.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type purchaseRequest struct {
	PaymentMethod string `json:"payment_method"`
	PaymentAmount string `json:"payment_amount"`
	TokenAmount   string `json:"token_amount"`
	Expiry        string `json:"expiry"`
	Signature     string `json:"signature"`
	Value         string `json:"value"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	buyer := s.caller(r)
	ctx, span := telemetry.Tracer().Start(r.Context(), "presale.buy",
		trace.WithAttributes(attribute.String("presale.buyer", buyer.Hex())))
	defer span.End()

	var body purchaseRequest
	req, value, err := s.decodePurchase(w, r, &body)
	if err == nil {
		span.SetAttributes(
			attribute.String("presale.method", req.PaymentMethod.Hex()),
			attribute.String("presale.token_amount", req.TokenAmount.String()),
		)
		var receipt *presale.Receipt
		receipt, err = s.rt.Engine.Buy(ctx, buyer, value, req)
		if err == nil {
			writeJSON(w, http.StatusOK, newReceiptView(receipt))
			return
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.fail(w, "buy", err)
}

func (s *Server) decodePurchase(w http.ResponseWriter, r *http.Request, body *purchaseRequest) (presale.PurchaseRequest, *big.Int, error) {
	if err := decodeJSON(w, r, body); err != nil {
		return presale.PurchaseRequest{}, nil, err
	}
	method, err := s.parseAsset("payment_method", body.PaymentMethod)
	if err != nil {
		return presale.PurchaseRequest{}, nil, err
	}
	payAmount, err := parseAmount("payment_amount", body.PaymentAmount, false)
	if err != nil {
		return presale.PurchaseRequest{}, nil, err
	}
	tokenAmount, err := parseAmount("token_amount", body.TokenAmount, false)
	if err != nil {
		return presale.PurchaseRequest{}, nil, err
	}
	var expiry *big.Int
	if strings.TrimSpace(body.Expiry) != "" {
		if expiry, err = parseAmount("expiry", body.Expiry, false); err != nil {
			return presale.PurchaseRequest{}, nil, err
		}
	}
	sig, err := parseSignature(body.Signature)
	if err != nil {
		return presale.PurchaseRequest{}, nil, err
	}
	value, err := parseAmount("value", body.Value, true)
	if err != nil {
		return presale.PurchaseRequest{}, nil, err
	}
	return presale.PurchaseRequest{
		PaymentMethod: method,
		PaymentAmount: payAmount,
		TokenAmount:   tokenAmount,
		Expiry:        expiry,
		Signature:     sig,
	}, value, nil
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	amount, err := s.rt.Engine.Redeem(r.Context(), s.caller(r))
	if err != nil {
		s.fail(w, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	methods, err := s.rt.Engine.PaymentMethods()
	if err != nil {
		s.fail(w, "refund", err)
		return
	}
	deposits, err := s.rt.Engine.Refund(r.Context(), s.caller(r))
	if err != nil {
		s.fail(w, "refund", err)
		return
	}
	out := make([]depositView, 0, len(deposits))
	for i, amount := range deposits {
		if amount == nil || amount.Sign() == 0 || i >= len(methods) {
			continue
		}
		out = append(out, depositView{
			Index:     methods[i].Index,
			Reference: methods[i].Reference.Hex(),
			Amount:    amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deposits": out})
}

type roleRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
}

func (s *Server) handleRenounce(w http.ResponseWriter, r *http.Request) {
	var body roleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, "renounce", err)
		return
	}
	role, err := presale.ParseRole(body.Role)
	if err != nil {
		s.fail(w, "renounce", err)
		return
	}
	if err := s.rt.Engine.Renounce(r.Context(), s.caller(r), role); err != nil {
		s.fail(w, "renounce", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, "grant", s.rt.Engine.Grant)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, "revoke", s.rt.Engine.Revoke)
}

type roleChange func(ctx context.Context, caller common.Address, role presale.Role, account common.Address) error

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request, operation string, apply roleChange) {
	var body roleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, operation, err)
		return
	}
	role, err := presale.ParseRole(body.Role)
	if err != nil {
		s.fail(w, operation, err)
		return
	}
	account, err := parseAddress("account", body.Account)
	if err != nil {
		s.fail(w, operation, err)
		return
	}
	if err := apply(r.Context(), s.caller(r), role, account); err != nil {
		s.fail(w, operation, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approveRequest struct {
	Asset   string `json:"asset"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, "approve", err)
		return
	}
	asset, err := s.parseAsset("asset", body.Asset)
	if err != nil {
		s.fail(w, "approve", err)
		return
	}
	spender := s.rt.Engine.Config().Custody
	if strings.TrimSpace(body.Spender) != "" {
		if spender, err = parseAddress("spender", body.Spender); err != nil {
			s.fail(w, "approve", err)
			return
		}
	}
	amount, err := parseAmount("amount", body.Amount, false)
	if err != nil {
		s.fail(w, "approve", err)
		return
	}
	if err := s.rt.Ledger.Approve(r.Context(), asset, s.caller(r), spender, amount); err != nil {
		s.fail(w, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     asset.Hex(),
		"spender":   spender.Hex(),
		"allowance": amount.String(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sale, err := s.rt.Engine.Start(r.Context(), s.caller(r))
	if err != nil {
		s.fail(w, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"start_time": sale.StartTime, "end_time": sale.EndTime})
}

type extendRequest struct {
	Seconds  int64  `json:"seconds"`
	Duration string `json:"duration"`
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	var body extendRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, "extend", err)
		return
	}
	seconds := body.Seconds
	if raw := strings.TrimSpace(body.Duration); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			s.fail(w, "extend", fmt.Errorf("%w: duration: %v", errBadRequest, err))
			return
		}
		extra := int64(d / time.Second)
		if extra > 0 && seconds > math.MaxInt64-extra {
			s.fail(w, "extend", presale.ErrInvalidExtension)
			return
		}
		seconds += extra
	}
	sale, err := s.rt.Engine.IncreaseEndTime(r.Context(), s.caller(r), seconds)
	if err != nil {
		s.fail(w, "extend", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"start_time": sale.StartTime, "end_time": sale.EndTime})
}

type paymentMethodRequest struct {
	Reference string `json:"reference"`
}

func (s *Server) handleAddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var body paymentMethodRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, "add_payment_method", err)
		return
	}
	ref, err := s.parseAsset("reference", body.Reference)
	if err != nil {
		s.fail(w, "add_payment_method", err)
		return
	}
	index, err := s.rt.Engine.AddPaymentMethod(r.Context(), s.caller(r), ref)
	if err != nil {
		s.fail(w, "add_payment_method", err)
		return
	}
	writeJSON(w, http.StatusCreated, newMethodView(presale.PaymentMethod{Index: index, Reference: ref}))
}

type priceRequest struct {
	Price string `json:"price"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var body priceRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, "set_price", err)
		return
	}
	price, err := parseAmount("price", body.Price, false)
	if err != nil {
		s.fail(w, "set_price", err)
		return
	}
	if err := s.rt.Engine.SetPrice(r.Context(), s.caller(r), price); err != nil {
		s.fail(w, "set_price", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sweepRequest struct {
	Asset string `json:"asset"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var body sweepRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, "sweep", err)
		return
	}
	asset, err := s.parseAsset("asset", body.Asset)
	if err != nil {
		s.fail(w, "sweep", err)
		return
	}
	amount, err := s.rt.Engine.GetToken(r.Context(), s.caller(r), asset)
	if err != nil {
		s.fail(w, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":  asset.Hex(),
		"amount": amount.String(),
	})
}

type mintRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// handleMint credits an asset balance. Only operators may mint.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if err := s.requireOperator(r); err != nil {
		s.fail(w, "mint", err)
		return
	}
	var body mintRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, "mint", err)
		return
	}
	asset, err := s.parseAsset("asset", body.Asset)
	if err != nil {
		s.fail(w, "mint", err)
		return
	}
	to, err := parseAddress("to", body.To)
	if err != nil {
		s.fail(w, "mint", err)
		return
	}
	amount, err := parseAmount("amount", body.Amount, false)
	if err != nil {
		s.fail(w, "mint", err)
		return
	}
	if err := s.rt.Ledger.Mint(r.Context(), asset, to, amount); err != nil {
		s.fail(w, "mint", err)
		return
	}
	balance, err := s.rt.Ledger.Balance(asset, to)
	if err != nil {
		s.fail(w, "mint", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":   asset.Hex(),
		"holder":  to.Hex(),
		"display": crypto.SaleAddress(to),
		"balance": balance.String(),
	})
}

type pauseRequest struct {
	Module string `json:"module"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, "pause", true)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, "resume", false)
}

func (s *Server) togglePause(w http.ResponseWriter, r *http.Request, operation string, pause bool) {
	if err := s.requireOperator(r); err != nil {
		s.fail(w, operation, err)
		return
	}
	if s.rt.Pauses == nil {
		s.fail(w, operation, fmt.Errorf("pause control not configured"))
		return
	}
	var body pauseRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, operation, err)
		return
	}
	module := strings.TrimSpace(body.Module)
	if module == "" {
		module = presale.ModuleName
	}
	if module != presale.ModuleName {
		s.fail(w, operation, fmt.Errorf("%w: %s", errUnknownModule, module))
		return
	}
	if pause {
		s.rt.Pauses.Pause(module)
	} else {
		s.rt.Pauses.Resume(module)
	}
	s.logger.Printf("presaled: %s %s by %s", operation, module, s.caller(r).Hex())
	writeJSON(w, http.StatusOK, map[string][]string{"paused": s.rt.Pauses.Modules()})
}

func (s *Server) requireOperator(r *http.Request) error {
	if !s.rt.Engine.HasRole(presale.RoleOperator, s.caller(r)) {
		return presale.ErrAccessDenied
	}
	return nil
}

type entryView struct {
	Sequence   uint64            `json:"sequence"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	PrevHash   string            `json:"prev_hash"`
	Hash       string            `json:"hash"`
	RecordedAt time.Time         `json:"recorded_at"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.rt.Journal == nil {
		http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
		return
	}
	after, err := parseQueryUint(r, "after")
	if err != nil {
		s.fail(w, "events", err)
		return
	}
	limit, err := parseQueryUint(r, "limit")
	if err != nil {
		s.fail(w, "events", err)
		return
	}
	entries, err := s.rt.Journal.List(r.Context(), after, int(limit))
	if err != nil {
		s.fail(w, "events", err)
		return
	}
	out := make([]entryView, 0, len(entries))
	next := after
	for _, entry := range entries {
		evt, err := entry.Event()
		if err != nil {
			s.fail(w, "events", err)
			return
		}
		out = append(out, entryView{
			Sequence:   entry.Sequence,
			ID:         entry.ID.String(),
			Type:       entry.Type,
			Attributes: evt.Attributes,
			PrevHash:   entry.PrevHash,
			Hash:       entry.Hash,
			RecordedAt: entry.RecordedAt,
		})
		next = entry.Sequence
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": out, "next": next})
}

func (s *Server) handleVerifyJournal(w http.ResponseWriter, r *http.Request) {
	if s.rt.Journal == nil {
		http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
		return
	}
	count, err := s.rt.Journal.Verify(r.Context())
	if err != nil {
		s.fail(w, "verify_journal", err)
		return
	}
	resp := map[string]interface{}{"entries": count}
	head, err := s.rt.Journal.Head(r.Context())
	if err != nil {
		s.fail(w, "verify_journal", err)
		return
	}
	if head != nil {
		resp["head"] = head.Hash
	}
	writeJSON(w, http.StatusOK, resp)
}
