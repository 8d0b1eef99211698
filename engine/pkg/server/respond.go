package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/malbeclabs/lottery/engine/pkg/lottery"
	"github.com/malbeclabs/lottery/engine/pkg/oracle"
	"github.com/malbeclabs/lottery/engine/pkg/token"
)

const maxBodyBytes = 1 << 20

// requestError marks a malformed request.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

var errJournalDisabled = errors.New("event journal is not configured")

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, errJournalDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, lottery.ErrUnauthorized),
		errors.Is(err, oracle.ErrUnauthorized),
		errors.Is(err, oracle.ErrForbidden),
		errors.Is(err, oracle.ErrCallerNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, lottery.ErrInvalidRoundType),
		errors.Is(err, lottery.ErrZeroTicketsAmount),
		errors.Is(err, lottery.ErrTicketsAmountExceeded),
		errors.Is(err, lottery.ErrInvalidLotteryIDsLength),
		errors.Is(err, lottery.ErrInvalidLotteryID),
		errors.Is(err, lottery.ErrZeroAddress),
		errors.Is(err, lottery.ErrInvalidAmount),
		errors.Is(err, lottery.ErrExceededMaxValue),
		errors.Is(err, oracle.ErrOutOfBounds),
		errors.Is(err, oracle.ErrZeroAddress),
		errors.Is(err, token.ErrNegativeAmount):
		return http.StatusBadRequest
	case errors.Is(err, oracle.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, lottery.ErrRoundTypePaused),
		errors.Is(err, lottery.ErrRoundTypeUnpaused),
		errors.Is(err, lottery.ErrAlreadyClaimed),
		errors.Is(err, lottery.ErrTooSoon),
		errors.Is(err, lottery.ErrStoredFeeAbsent),
		errors.Is(err, lottery.ErrExcessAbsent),
		errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, lottery.ErrRequestNotFound),
		errors.Is(err, lottery.ErrNotFulfilledRequest),
		errors.Is(err, lottery.ErrInvalidRandomValue),
		errors.Is(err, lottery.ErrRefillNotConfigured),
		errors.Is(err, oracle.ErrInsufficientSubscriptionBalance):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("server: failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	} else {
		s.log.Debug("server: request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}
