package models

import (
	"errors"
	"fmt"
)

// ErrNoOp marks an operation that had nothing to act on. It is logged, never fatal.
var ErrNoOp = errors.New("no-op")

// ConfigError rejects a parameter before a simulation starts.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// InvariantViolation reports queue or serving state that the scheduler must
// never produce.
type InvariantViolation struct {
	Time      float64
	Resource  string
	PatientID int
	Reason    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated at t=%.3f resource=%q patient=%d: %s", e.Time, e.Resource, e.PatientID, e.Reason)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}
