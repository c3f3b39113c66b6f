package domain

import "errors"

// Analytic failures. Callers wrap these with context and test with errors.Is.
var (
	// ErrInsufficientData is returned when too few customers remain to score.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrEmptyBasket is returned when fewer than two invoices or items remain.
	ErrEmptyBasket = errors.New("empty basket matrix")

	// ErrEmptySample is returned when no valid scored orders are available.
	ErrEmptySample = errors.New("empty order sample")

	// ErrCapacityExceeded is returned when an input exceeds a configured budget.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
