package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrMaterialNotFound is returned when a material does not exist.
	ErrMaterialNotFound = errors.New("material not found")

	// ErrInventoryNotFound is returned when no aggregate stock record
	// exists for a material.
	ErrInventoryNotFound = errors.New("inventory record not found")

	// ErrLotNotFound is returned when a lot does not exist.
	ErrLotNotFound = errors.New("inventory lot not found")

	// ErrReceiptNotFound is returned when an inbound receipt does not exist.
	ErrReceiptNotFound = errors.New("inbound receipt not found")

	// ErrOutputNotFound is returned when an outbound request does not exist.
	ErrOutputNotFound = errors.New("outbound request not found")

	// ErrInsufficientStock is returned when a conditional decrement
	// finds less stock than requested (strict mode only).
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicateDelivery is returned when a receive call replays an
	// idempotency token that was already committed.
	ErrDuplicateDelivery = errors.New("delivery already registered")

	// ErrConcurrentUpdate is returned when a guarded update lost
	// against a concurrent writer and should be retried.
	ErrConcurrentUpdate = errors.New("record modified concurrently")

	// ErrInvalidTransition is returned when an outbound request is
	// asked to move to a state its current state does not allow.
	ErrInvalidTransition = errors.New("invalid output status transition")
)

// ValidationError reports an invalid input field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error [%s]: %s (value: %s)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// BusinessRuleError reports a domain rule violation.
type BusinessRuleError struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Context string `json:"context"`
}

func (e BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violation [%s]: %s (context: %s)", e.Rule, e.Message, e.Context)
}

// NewBusinessRuleError creates a new business rule error.
func NewBusinessRuleError(rule, message, context string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message, Context: context}
}

// StorageError wraps a failure from the persistence layer.
type StorageError struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
	Cause     error  `json:"cause"`
}

func (e StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error [%s]: %s (cause: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("storage error [%s]: %s", e.Operation, e.Message)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new storage error.
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{Operation: operation, Message: message, Cause: cause}
}

// RowError is one rejected row from a bulk upload, reported alongside
// the committed rows rather than aborting the batch.
type RowError struct {
	Row     int    `json:"row"` // 1-based spreadsheet row number
	Message string `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}
