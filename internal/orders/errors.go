package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrEmptyCart         = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Shortage describes one line that could not be reserved.
type Shortage struct {
	VariantID string `json:"variant_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// OutOfStockError is returned by Reserve when any line is short. No stock was
// mutated when it is returned.
type OutOfStockError struct {
	Shortages []Shortage
}

func (e *OutOfStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.VariantID, s.Requested, s.Available))
	}
	return "out of stock: " + strings.Join(parts, ", ")
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func transitionf(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
