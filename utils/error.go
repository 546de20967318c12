package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ledger errors so callers (and the HTTP layer) can
// decide whether an operation is a caller mistake, retryable, or a fault.
type ErrorKind string

const (
	ErrorKindValidation             ErrorKind = "validation"
	ErrorKindInvalidTransition      ErrorKind = "invalid_transition"
	ErrorKindInvoiceLocked          ErrorKind = "invoice_locked"
	ErrorKindDuplicateInvoiceNumber ErrorKind = "duplicate_invoice_number"
	ErrorKindAlreadyRegistered      ErrorKind = "already_registered"
	ErrorKindSignerUnavailable      ErrorKind = "signer_unavailable"
	ErrorKindSignerRejected         ErrorKind = "signer_rejected"
	ErrorKindConcurrencyConflict    ErrorKind = "concurrency_conflict"
	ErrorKindAnomaly                ErrorKind = "anomaly"
	ErrorKindNotFound               ErrorKind = "not_found"
)

type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

var ErrorRecordNotFound = &AppError{Kind: ErrorKindNotFound, Message: "record not found"}

func NewValidationError(message string) error {
	return &AppError{Kind: ErrorKindValidation, Message: message}
}

func NewInvalidTransitionError(from string, to string) error {
	return &AppError{Kind: ErrorKindInvalidTransition, Message: fmt.Sprintf("invalid status transition from %s to %s", from, to)}
}

func NewInvoiceLockedError(message string) error {
	return &AppError{Kind: ErrorKindInvoiceLocked, Message: message}
}

func NewDuplicateInvoiceNumberError(number string) error {
	return &AppError{Kind: ErrorKindDuplicateInvoiceNumber, Message: "invoice number already exists: " + number}
}

func NewAlreadyRegisteredError(invoiceNumber string) error {
	return &AppError{Kind: ErrorKindAlreadyRegistered, Message: "invoice already registered: " + invoiceNumber}
}

func NewSignerUnavailableError(message string) error {
	return &AppError{Kind: ErrorKindSignerUnavailable, Message: message}
}

func NewSignerRejectedError(message string) error {
	return &AppError{Kind: ErrorKindSignerRejected, Message: message}
}

func NewConcurrencyConflictError(message string) error {
	return &AppError{Kind: ErrorKindConcurrencyConflict, Message: message}
}

func NewAnomalyError(message string) error {
	return &AppError{Kind: ErrorKindAnomaly, Message: message}
}

// KindOf returns the error's kind, or "" for plain errors.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may retry the same call unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrorKindSignerUnavailable, ErrorKindConcurrencyConflict:
		return true
	}
	return false
}
