package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Type string

const (
	TypePaymentFailed     Type = "payment_failed"
	TypeAccountSuspended  Type = "account_suspended"
	TypeLateFeeApplied    Type = "late_fee_applied"
	TypeRenewalNotice     Type = "renewal_notice"
	TypeMembershipRenewed Type = "membership_renewed"
	TypeMembershipExpired Type = "membership_expired"
	TypeClassPackRenewed  Type = "class_pack_renewed"
	TypeTrialEnding       Type = "trial_ending"
)

const ChannelEmail = "email"

// Notification is one message for a payer. A non-empty Reference makes the
// send idempotent across re-runs.
type Notification struct {
	Type      Type
	PayerID   snowflake.ID
	Reference string
	Data      map[string]any
}

type Status string

const (
	StatusSent      Status = "sent"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

type Result struct {
	LogID  snowflake.ID
	Status Status
}

type Dispatcher interface {
	Notify(ctx context.Context, n Notification) (Result, error)
}

var (
	ErrInvalidNotification = errors.New("invalid_notification")
	ErrPayerNotFound       = errors.New("payer_not_found")
	ErrDeliveryFailed      = errors.New("notification_delivery_failed")
)
