package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeOutOfStock        = "OUT_OF_STOCK"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInternal          = "INTERNAL"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func writeFail(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, envelope{Error: &apiError{Code: code, Message: msg, Details: details}})
}

// writeError maps domain errors to status codes. Internal errors are logged
// and their text is not exposed.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var oos *orders.OutOfStockError
	switch {
	case errors.As(err, &oos):
		writeFail(w, http.StatusConflict, CodeOutOfStock, "some items are out of stock", oos.Shortages)
	case errors.Is(err, orders.ErrValidation):
		writeFail(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
	case errors.Is(err, orders.ErrUnauthorized):
		writeFail(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required", nil)
	case errors.Is(err, orders.ErrForbidden):
		writeFail(w, http.StatusForbidden, CodeForbidden, "not allowed", nil)
	case errors.Is(err, orders.ErrNotFound):
		writeFail(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, orders.ErrInvalidTransition):
		writeFail(w, http.StatusConflict, CodeInvalidTransition, err.Error(), nil)
	default:
		log.Error("request failed", zap.Error(err))
		writeFail(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}
