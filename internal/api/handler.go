package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"riskguard/internal/risk"
	"riskguard/internal/schema"
	"riskguard/internal/state"
	"riskguard/pkg/exception"
)

const maxBodySize = 1 << 16

// Service is the risk instance behind the handler.
type Service interface {
	Check(ctx context.Context, order schema.OrderProposal) (schema.Decision, error)
	ApplyFill(ctx context.Context, fill schema.Fill) (state.Position, error)
	Snapshot(ctx context.Context) (state.Snapshot, error)
	Exposure(ctx context.Context) (risk.ExposureReport, error)
	ClearHalt(ctx context.Context) error
}

type CheckRequest struct {
	Symbol     string           `json:"symbol"`
	Delta      decimal.Decimal  `json:"delta"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
}

type CheckResponse struct {
	ID       uint64 `json:"id"`
	Symbol   string `json:"symbol"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type FillRequest struct {
	OrderID string          `json:"orderId"`
	Symbol  string          `json:"symbol"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	TsEvent int64           `json:"tsEvent"`
}

type PositionResponse struct {
	Symbol      string           `json:"symbol"`
	Qty         decimal.Decimal  `json:"qty"`
	AvgPrice    *decimal.Decimal `json:"avgPrice,omitempty"`
	RealizedPnL decimal.Decimal  `json:"realizedPnl"`
}

type ExposureResponse struct {
	Total     decimal.Decimal            `json:"total"`
	PerSymbol map[string]decimal.Decimal `json:"perSymbol"`
	Missing   []string                   `json:"missing,omitempty"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	HaltReason string `json:"haltReason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler routes the order-path and observability endpoints.
func NewHandler(svc Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/check", func(w http.ResponseWriter, r *http.Request) {
		var req CheckRequest
		if !decode(w, r, &req) {
			return
		}
		decision, err := svc.Check(r.Context(), schema.OrderProposal{
			Symbol:     schema.Symbol(req.Symbol),
			Delta:      req.Delta,
			LimitPrice: req.LimitPrice,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		resp := CheckResponse{ID: decision.ID, Symbol: decision.Symbol.String(), Accepted: decision.Accepted()}
		if !decision.Accepted() {
			resp.Reason = decision.Reason.String()
		}
		write(w, http.StatusOK, resp)
	})
	mux.HandleFunc("POST /v1/fills", func(w http.ResponseWriter, r *http.Request) {
		var req FillRequest
		if !decode(w, r, &req) {
			return
		}
		pos, err := svc.ApplyFill(r.Context(), schema.Fill{
			OrderID: req.OrderID,
			Symbol:  schema.Symbol(req.Symbol),
			Qty:     req.Qty,
			Price:   req.Price,
			TsEvent: req.TsEvent,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		resp := PositionResponse{Symbol: pos.Symbol.String(), Qty: pos.Qty, RealizedPnL: pos.RealizedPnL}
		if pos.HasAvgPrice() {
			avg := pos.AvgPrice
			resp.AvgPrice = &avg
		}
		write(w, http.StatusOK, resp)
	})
	mux.HandleFunc("GET /v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := svc.Snapshot(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		write(w, http.StatusOK, snapshot)
	})
	mux.HandleFunc("GET /v1/exposure", func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.Exposure(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		resp := ExposureResponse{Total: report.Total, PerSymbol: make(map[string]decimal.Decimal, len(report.PerSymbol))}
		for _, e := range report.PerSymbol {
			resp.PerSymbol[e.Symbol.String()] = e.Exposure
		}
		for _, symbol := range report.Missing {
			resp.Missing = append(resp.Missing, symbol.String())
		}
		write(w, http.StatusOK, resp)
	})
	mux.HandleFunc("POST /v1/halt/clear", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearHalt(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		logs.Info("safe mode cleared via api")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := svc.Snapshot(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if snapshot.Halted {
			write(w, http.StatusServiceUnavailable, HealthResponse{Status: "safe_mode", HaltReason: snapshot.HaltReason})
			return
		}
		write(w, http.StatusOK, HealthResponse{Status: "healthy"})
	})
	return mux
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		write(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	if err := sonic.ConfigStd.Unmarshal(body, v); err != nil {
		write(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exception.ErrInvalidOrder), errors.Is(err, exception.ErrInvalidFill):
		status = http.StatusBadRequest
	case errors.Is(err, exception.ErrBusy):
		w.Header().Set("Retry-After", "1")
		status = http.StatusServiceUnavailable
	case errors.Is(err, exception.ErrLedgerClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, exception.ErrStateInvariantViolation):
		logs.Errorf("ledger invariant violation, err: %+v", err)
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	write(w, status, errorResponse{Error: err.Error()})
}

func write(w http.ResponseWriter, status int, v any) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		logs.Errorf("encode response, err: %+v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
