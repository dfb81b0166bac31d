package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by what the caller may do about them
type ErrorKind string

const (
	KindSessionCreation    ErrorKind = "session_creation"
	KindTokenExtraction    ErrorKind = "token_extraction"
	KindOrphanedSuccess    ErrorKind = "orphaned_success"
	KindValidation         ErrorKind = "validation"
	KindConfigurationGap   ErrorKind = "configuration_gap"
	KindPermission         ErrorKind = "permission"
	KindNotFound           ErrorKind = "not_found"
	KindUnverified         ErrorKind = "payment_unverified"
	KindGatewayUnavailable ErrorKind = "gateway_unavailable"
	KindInternal           ErrorKind = "internal"
)

var (
	ErrAntiBotTokenMissing     = errors.New("anti-bot token is required")
	ErrAntiBotTokenStale       = errors.New("anti-bot token expired or already used")
	ErrUnparseable             = errors.New("callback payload is empty or unparseable")
	ErrTokenNotFound           = errors.New("no payment token found in callback payload")
	ErrNoCommissionRate        = errors.New("no commission rate configured")
	ErrNoReferringAgent        = errors.New("member has no referring agent")
	ErrAmountOverrideForbidden = errors.New("amount override requires the amount override permission")
	ErrLockHeld                = errors.New("lock is held by another worker")
	ErrNotApproved             = errors.New("gateway has not approved the transaction")
)

// PaymentError carries the error taxonomy across service boundaries
type PaymentError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry. Nothing is retryable once
// money has moved.
func (e *PaymentError) Retryable() bool {
	switch e.Kind {
	case KindSessionCreation, KindValidation, KindGatewayUnavailable:
		return true
	}
	return false
}

func newPaymentError(kind ErrorKind, message string, err error) *PaymentError {
	return &PaymentError{Kind: kind, Message: message, Err: err}
}

func validationError(format string, args ...interface{}) *PaymentError {
	return &PaymentError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a PaymentError anywhere in the chain
func KindOf(err error) ErrorKind {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
