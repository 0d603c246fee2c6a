package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/fairstake/betledger/internal/config"
	"github.com/fairstake/betledger/internal/ledger"
	"github.com/fairstake/betledger/internal/service"
	"github.com/fairstake/betledger/internal/settle"
	"github.com/fairstake/betledger/internal/sign"
	"github.com/fairstake/betledger/pkg/logger"
)

const operatorTokenHeader = "X-Operator-Token"

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type APIErrorResponse struct {
	Status    string    `json:"status"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type SignatureJSON struct {
	V uint8  `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

type PlaceBetRequest struct {
	Commit       string        `json:"commit"`
	Selector     string        `json:"selector"` // decimal, or hex with 0x prefix
	Modulo       uint64        `json:"modulo"`
	ExpiryHeight uint64        `json:"expiry_height"`
	Signature    SignatureJSON `json:"signature"`
	Wager        string        `json:"wager"` // coin-denominated decimal
	Bettor       string        `json:"bettor"`
	Source       string        `json:"source,omitempty"`
}

type SettleRequest struct {
	Reveal    string `json:"reveal"`
	BlockHash string `json:"block_hash"`
}

type RefundRequest struct {
	Commit string `json:"commit"`
}

type DepositRequest struct {
	Amount string `json:"amount"`
}

type BetResponse struct {
	Commit    string `json:"commit"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Modulo    uint64 `json:"modulo"`
	RollUnder uint64 `json:"roll_under"`
	Mask      string `json:"mask,omitempty"`
	Bettor    string `json:"bettor,omitempty"`
	PlacedAt  uint64 `json:"placed_at"`
}

type OutcomeResponse struct {
	Commit     string `json:"commit"`
	Roll       uint64 `json:"roll"`
	Won        bool   `json:"won"`
	WinAmount  string `json:"win_amount"`
	JackpotWin string `json:"jackpot_win"`
	Refunded   bool   `json:"refunded"`
	PaidAmount string `json:"paid_amount"`
	Delivered  bool   `json:"delivered"`
}

type StatusResponse struct {
	Balance         string `json:"balance"`
	LockedLiability string `json:"locked_liability"`
	JackpotPool     string `json:"jackpot_pool"`
}

type LedgerHTTPHandler struct {
	version  string
	svc      *service.Service
	decimals int32
}

func NewLedgerHTTPHandler(version string, svc *service.Service, decimals int32) *LedgerHTTPHandler {
	return &LedgerHTTPHandler{
		version:  version,
		svc:      svc,
		decimals: decimals,
	}
}

func (h *LedgerHTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/bets", h.HandlePlace)
	mux.HandleFunc("/bets/", h.HandleQuery)
	mux.HandleFunc("/bets/settle", h.HandleSettle)
	mux.HandleFunc("/bets/refund", h.HandleRefund)
	mux.HandleFunc("/deposit", h.HandleDeposit)
}

func (h *LedgerHTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

func (h *LedgerHTTPHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	state := h.svc.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Balance:         config.FormatAmount(state.Balance, h.decimals),
		LockedLiability: config.FormatAmount(state.LockedLiability, h.decimals),
		JackpotPool:     config.FormatAmount(state.JackpotPool, h.decimals),
	})
}

func (h *LedgerHTTPHandler) HandlePlace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	placeReq, err := h.buildPlaceRequest(req)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	bet, err := h.svc.Place(r.Context(), placeReq)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.betResponse(bet))
}

func (h *LedgerHTTPHandler) buildPlaceRequest(req PlaceBetRequest) (service.PlaceRequest, error) {
	commit, err := ledger.ParseCommit(req.Commit)
	if err != nil {
		return service.PlaceRequest{}, err
	}

	selector, ok := new(big.Int).SetString(req.Selector, 0)
	if !ok {
		return service.PlaceRequest{}, fmt.Errorf("invalid selector %q", req.Selector)
	}

	wager, err := config.ParseAmount(req.Wager, h.decimals)
	if err != nil {
		return service.PlaceRequest{}, fmt.Errorf("invalid wager: %w", err)
	}

	sig := sign.Signature{V: req.Signature.V}
	if err := parseHex32(req.Signature.R, &sig.R); err != nil {
		return service.PlaceRequest{}, fmt.Errorf("invalid signature r: %w", err)
	}
	if err := parseHex32(req.Signature.S, &sig.S); err != nil {
		return service.PlaceRequest{}, fmt.Errorf("invalid signature s: %w", err)
	}

	return service.PlaceRequest{
		Commit:       commit,
		Selector:     selector,
		Modulo:       req.Modulo,
		ExpiryHeight: req.ExpiryHeight,
		Sig:          sig,
		Wager:        wager,
		Bettor:       req.Bettor,
		Source:       req.Source,
	}, nil
}

func (h *LedgerHTTPHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/bets/")
	bet, err := h.svc.Query(r.Context(), key)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.betResponse(bet))
}

func (h *LedgerHTTPHandler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	var reveal, blockHash [32]byte
	if err := parseHex32(req.Reveal, &reveal); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid reveal: "+err.Error())
		return
	}
	if err := parseHex32(req.BlockHash, &blockHash); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid block hash: "+err.Error())
		return
	}

	out, err := h.svc.Settle(r.Context(), r.Header.Get(operatorTokenHeader), reveal, blockHash)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.outcomeResponse(out))
}

func (h *LedgerHTTPHandler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	commit, err := ledger.ParseCommit(req.Commit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	out, err := h.svc.Refund(r.Context(), commit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.outcomeResponse(out))
}

func (h *LedgerHTTPHandler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	amount, err := config.ParseAmount(req.Amount, h.decimals)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}

	if err := h.svc.Deposit(amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	h.HandleStatus(w, r)
}

func (h *LedgerHTTPHandler) betResponse(b ledger.Bet) BetResponse {
	resp := BetResponse{
		Commit:    b.Commit.Hex(),
		Status:    b.Lifecycle().String(),
		Amount:    config.FormatAmount(b.Amount, h.decimals),
		Modulo:    b.Modulo,
		RollUnder: b.RollUnder,
		Bettor:    b.Bettor,
		PlacedAt:  b.PlacedAt,
	}
	if len(b.Mask) > 0 {
		resp.Mask = fmt.Sprintf("0x%x", b.Mask)
	}
	return resp
}

func (h *LedgerHTTPHandler) outcomeResponse(out settle.Outcome) OutcomeResponse {
	return OutcomeResponse{
		Commit:     out.Bet.Commit.Hex(),
		Roll:       out.Roll,
		Won:        out.Won,
		WinAmount:  config.FormatAmount(out.WinAmount, h.decimals),
		JackpotWin: config.FormatAmount(out.JackpotWin, h.decimals),
		Refunded:   out.Refunded,
		PaidAmount: config.FormatAmount(out.PaidAmount, h.decimals),
		Delivered:  out.Delivered,
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInputRange):
		statusCode = http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, ledger.ErrState), errors.Is(err, ledger.ErrTemporal):
		statusCode = http.StatusConflict
	case errors.Is(err, ledger.ErrInsolvent):
		statusCode = http.StatusServiceUnavailable
	}
	writeErrorJSON(w, statusCode, err.Error())
}

func parseHex32(s string, out *[32]byte) error {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	if len(b) != len(out) {
		return fmt.Errorf("want %d bytes, got %d", len(out), len(b))
	}
	copy(out[:], b)
	return nil
}

func startHTTPServer(listen, version string, svc *service.Service, decimals int32) *http.Server {
	mux := http.NewServeMux()
	NewLedgerHTTPHandler(version, svc, decimals).Register(mux)

	server := &http.Server{
		Addr:    listen,
		Handler: mux,
	}

	go func() {
		logger.Info("HTTP server started", "listen", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed to start", "error", err)
		}
	}()

	return server
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "status", statusCode, "err", err)
	}
}

func writeErrorJSON(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, APIErrorResponse{
		Status:    "error",
		Error:     message,
		Timestamp: time.Now().UTC(),
	})
}
