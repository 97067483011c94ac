package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"defiledger/services/lendingd/orchestrator"
)

var errBadRequest = errors.New("malformed request body")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(reason string) int {
	switch reason {
	case "invalid_request", "invalid_amount", "invalid_parameters", "invalid_price",
		"invalid_pool", "market_mismatch", "pool_mismatch":
		return http.StatusBadRequest
	case "not_owner":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "already_exists":
		return http.StatusConflict
	case "insufficient_liquidity", "exceeds_borrow_power", "insufficient_balance",
		"insufficient_shares", "degenerate_pool", "not_liquidatable",
		"position_closed", "market_inactive":
		return http.StatusUnprocessableEntity
	case "paused":
		return http.StatusLocked
	case "price_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadRequest) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}
	reason := orchestrator.Reason(err)
	status := statusFor(reason)
	body := errorBody{Error: reason, Message: err.Error()}
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
