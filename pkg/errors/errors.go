package errors

import (
	"errors"
	"fmt"
)

// LedgerError represents base ledger error
type LedgerError struct {
	Code    string
	Message string
	Cause   error
}

func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeStorage       = "STORAGE"
	ErrCodeChainConflict = "CHAIN_CONFLICT"
	ErrCodeMining        = "MINING"
	ErrCodeValidation    = "VALIDATION"
	ErrCodeConfiguration = "CONFIGURATION"
	ErrCodeMessaging     = "MESSAGING"
)

// NewStorageError creates storage error
func NewStorageError(message string, cause error) *LedgerError {
	return &LedgerError{
		Code:    ErrCodeStorage,
		Message: message,
		Cause:   cause,
	}
}

// NewChainConflictError creates an error for an append that no longer extends the chain tip
func NewChainConflictError(index int64, cause error) *LedgerError {
	return &LedgerError{
		Code:    ErrCodeChainConflict,
		Message: fmt.Sprintf("record %d does not extend the current chain tip", index),
		Cause:   cause,
	}
}

// NewMiningError creates mining error
func NewMiningError(index int64, cause error) *LedgerError {
	return &LedgerError{
		Code:    ErrCodeMining,
		Message: fmt.Sprintf("failed to mine record %d", index),
		Cause:   cause,
	}
}

// NewValidationError creates validation error
func NewValidationError(message string, cause error) *LedgerError {
	return &LedgerError{
		Code:    ErrCodeValidation,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError creates configuration error
func NewConfigurationError(message string, cause error) *LedgerError {
	return &LedgerError{
		Code:    ErrCodeConfiguration,
		Message: message,
		Cause:   cause,
	}
}

// NewMessagingError creates messaging error
func NewMessagingError(message string, cause error) *LedgerError {
	return &LedgerError{
		Code:    ErrCodeMessaging,
		Message: message,
		Cause:   cause,
	}
}

// IsCode reports whether any LedgerError in err's chain carries code
func IsCode(err error, code string) bool {
	var le *LedgerError
	for err != nil {
		if !errors.As(err, &le) {
			return false
		}
		if le.Code == code {
			return true
		}
		err = le.Cause
	}
	return false
}

// IsChainConflict reports whether err is a chain conflict
func IsChainConflict(err error) bool {
	return IsCode(err, ErrCodeChainConflict)
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return IsCode(err, ErrCodeValidation)
}
