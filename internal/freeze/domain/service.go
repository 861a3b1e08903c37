package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
)

type CreateFreezeRequest struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	StartDate      time.Time    `json:"start_date"`
	// EndDate is nil for an indefinite freeze.
	EndDate      *time.Time `json:"end_date,omitempty"`
	FrozenAmount int64      `json:"frozen_amount"`
	Reason       string     `json:"reason"`
}

// UpdateFreezeRequest changes only the fields that are set.
type UpdateFreezeRequest struct {
	FreezeID     snowflake.ID `json:"-"`
	StartDate    *time.Time   `json:"start_date,omitempty"`
	EndDate      *time.Time   `json:"end_date,omitempty"`
	FrozenAmount *int64       `json:"frozen_amount,omitempty"`
	Reason       *string      `json:"reason,omitempty"`
}

type FreezeResult struct {
	Freeze              ledgerdomain.MembershipFreeze `json:"freeze"`
	Reallocated         int                           `json:"reallocated"`
	CompensationAdded   int                           `json:"compensation_added"`
	CompensationRemoved int                           `json:"compensation_removed"`
	ActiveInstallments  int                           `json:"active_installments"`
}

type Service interface {
	CreateFreeze(ctx context.Context, req CreateFreezeRequest) (*FreezeResult, error)
	UpdateFreeze(ctx context.Context, req UpdateFreezeRequest) (*FreezeResult, error)
	DeleteFreeze(ctx context.Context, freezeID snowflake.ID) (*FreezeResult, error)
	// Renumber rewrites installment numbers of the subscription's active
	// schedule to 1..N in date order and returns N.
	Renumber(ctx context.Context, subscriptionID snowflake.ID) (int, error)
}

var (
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidFreeze        = errors.New("invalid_freeze")
	ErrInvalidDateRange     = errors.New("invalid_date_range")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrFreezeNotFound       = errors.New("freeze_not_found")
	ErrFreezeEnded          = errors.New("freeze_ended")
)
