package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrValidation             = errors.New("validation failed")
)

// ConflictError reports that a device is already confirmed against a
// different target for the same matching year. It always names both
// parties so a reviewer can see exactly who holds the device.
type ConflictError struct {
	EquipmentSerial string
	TargetKey       string
	HeldByTargetKey string
	MatchingYear    int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("device %s is already confirmed to target %s for year %d (requested by target %s)",
		e.EquipmentSerial, e.HeldByTargetKey, e.MatchingYear, e.TargetKey)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError reports a malformed input record by field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
