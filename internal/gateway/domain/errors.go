package domain

import (
	"errors"
	"strings"
)

var (
	ErrProviderNotFound = errors.New("processor_not_found")
	ErrInvalidConfig    = errors.New("invalid_processor_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrNotFound         = errors.New("processor_resource_not_found")
)

// Kind classifies processor failures by remediation.
type Kind string

const (
	KindCardDeclined           Kind = "card_declined"
	KindAuthenticationRequired Kind = "authentication_required"
	KindInvalidRequest         Kind = "invalid_request"
	KindUnknownOutcome         Kind = "unknown_outcome"
	KindUnavailable            Kind = "unavailable"
	KindOther                  Kind = "other"
)

// Kind sentinels; a *ProcessorError matches the one for its Kind under errors.Is.
var (
	ErrCardDeclined           = errors.New("card_declined")
	ErrAuthenticationRequired = errors.New("authentication_required")
	ErrInvalidRequest         = errors.New("invalid_request")
	ErrUnknownOutcome         = errors.New("unknown_outcome")
	ErrUnavailable            = errors.New("processor_unavailable")
)

var kindSentinels = map[Kind]error{
	KindCardDeclined:           ErrCardDeclined,
	KindAuthenticationRequired: ErrAuthenticationRequired,
	KindInvalidRequest:         ErrInvalidRequest,
	KindUnknownOutcome:         ErrUnknownOutcome,
	KindUnavailable:            ErrUnavailable,
}

// ProcessorError is a classified failure returned by a Gateway.
type ProcessorError struct {
	Kind        Kind
	Code        string
	DeclineCode string
	Message     string
	Err         error
}

func NewProcessorError(kind Kind, code, declineCode, message string) *ProcessorError {
	return &ProcessorError{
		Kind:        kind,
		Code:        strings.TrimSpace(code),
		DeclineCode: strings.TrimSpace(declineCode),
		Message:     strings.TrimSpace(message),
	}
}

func (e *ProcessorError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("processor ")
	b.WriteString(string(e.Kind))
	if e.Code != "" && e.Code != string(e.Kind) {
		b.WriteString(" (")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ProcessorError) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

func (e *ProcessorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FailureReason is the staff-facing reason stored on a failed payment.
func (e *ProcessorError) FailureReason() string {
	if e == nil {
		return ""
	}
	switch {
	case e.DeclineCode != "":
		return e.DeclineCode
	case e.Code != "":
		return e.Code
	default:
		return string(e.Kind)
	}
}

// KindOf returns the Kind of err, or KindOther when err is not a ProcessorError.
func KindOf(err error) Kind {
	var procErr *ProcessorError
	if errors.As(err, &procErr) {
		return procErr.Kind
	}
	return KindOther
}
