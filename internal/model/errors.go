package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced event does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientInventory is returned when an event cannot cover the requested quantity.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrInvalidConfiguration is returned when pricing bounds, capacity or rule
	// configuration violate their invariants at event creation.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidQuantity is returned when a reservation asks for fewer than one ticket.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")

	// ErrTransientStorage is returned when the store failed in a way that is safe
	// to retry (lock wait timeout, connection loss, serialization failure).
	ErrTransientStorage = errors.New("transient storage error")
)

// InsufficientInventoryError carries the remaining count observed under the event lock.
type InsufficientInventoryError struct {
	EventID   string
	Requested int
	Remaining int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for event %s: requested %d, %d remaining",
		e.EventID, e.Requested, e.Remaining)
}

func (e *InsufficientInventoryError) Unwrap() error {
	return ErrInsufficientInventory
}

// ConfigError names the field that failed event validation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

// StorageError marks a persistence failure as retryable while keeping its cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is reports ErrTransientStorage in addition to whatever the cause matches.
func (e *StorageError) Is(target error) bool {
	return target == ErrTransientStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable storage failure of op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient checks if the error is safe to retry as a whole unit of work
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStorage)
}

// IsClientError checks if the error is correctable by the caller
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrInvalidQuantity)
}

// RemainingFrom extracts the remaining count from an insufficient-inventory error.
func RemainingFrom(err error) (int, bool) {
	var ie *InsufficientInventoryError
	if errors.As(err, &ie) {
		return ie.Remaining, true
	}
	return 0, false
}
