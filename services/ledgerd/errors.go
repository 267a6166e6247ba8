package ledgerd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ticketledger/native/billing"
)

// errBadRequest marks malformed request input.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, billing.ErrUnknownEvent), errors.Is(err, billing.ErrUnknownTicket):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrInvalidRules),
		errors.Is(err, billing.ErrInvalidPercentage),
		errors.Is(err, billing.ErrInvalidAmount),
		errors.Is(err, billing.ErrCurrencyMismatch):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrInsufficientFunds),
		errors.Is(err, billing.ErrAlreadyRefunded),
		errors.Is(err, billing.ErrAlreadyAllocated),
		errors.Is(err, billing.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, billing.ErrRefundUnconfirmed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
