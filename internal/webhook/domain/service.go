package domain

import (
	"context"
	"errors"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnhandled Outcome = "unhandled"
	// OutcomeIgnored marks a verified event that references nothing this
	// ledger knows about, such as a customer created outside the academy.
	OutcomeIgnored Outcome = "ignored"
)

type Result struct {
	EventID   string  `json:"event_id"`
	EventType string  `json:"event_type"`
	Outcome   Outcome `json:"outcome"`
}

type Service interface {
	// HandleWebhook verifies the raw payload against signature and applies
	// the event to the ledger. Redelivered events are acknowledged without
	// being applied twice.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (Result, error)
}

var (
	ErrMissingSignature     = errors.New("missing_signature")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrEventStateMissing    = errors.New("event_state_missing")
)
