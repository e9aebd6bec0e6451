package calibration

import (
	"errors"
	"fmt"
)

// Solver failures. They are wrapped in *Error so callers can both match the
// kind with errors.Is and read the detail.
var (
	ErrInsufficientSamples = errors.New("insufficient calibration samples")
	ErrIllConditioned      = errors.New("ill-conditioned calibration geometry")
)

// Session contract violations.
var (
	ErrAlreadyCalibrating = errors.New("calibration already in progress")
	ErrNotCalibrating     = errors.New("calibration not in progress")
	ErrSessionClosed      = errors.New("calibration session closed")
)

// Error describes a failed solve.
type Error struct {
	Kind      error // ErrInsufficientSamples or ErrIllConditioned
	Model     Model
	Samples   int     // samples offered to the solver
	Distinct  int     // samples left after dropping duplicates
	Condition float64 // condition number, when one was computed
	Detail    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("calibration (%s, %d samples): %v", e.Model, e.Samples, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

func insufficient(m Model, samples, distinct int) *Error {
	return &Error{
		Kind:     ErrInsufficientSamples,
		Model:    m,
		Samples:  samples,
		Distinct: distinct,
		Detail:   fmt.Sprintf("%d distinct correspondences, need %d", distinct, m.MinSamples()),
	}
}

func illConditioned(m Model, samples int, cond float64, detail string) *Error {
	return &Error{
		Kind:      ErrIllConditioned,
		Model:     m,
		Samples:   samples,
		Distinct:  samples,
		Condition: cond,
		Detail:    detail,
	}
}
