package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
)

type RefundRequest struct {
	PaymentID snowflake.ID `json:"-"`
	Amount    int64        `json:"amount"`
	Reason    string       `json:"reason"`
	// CreditRemainder books the unrefunded balance as account credit. The
	// payment stays completed but nothing further can be refunded from it.
	CreditRemainder bool `json:"credit_remainder"`
}

type RefundResult struct {
	RefundID          snowflake.ID               `json:"refund_id"`
	PaymentID         snowflake.ID               `json:"payment_id"`
	Amount            int64                      `json:"amount"`
	Status            ledgerdomain.RefundStatus  `json:"status"`
	ProcessorRefundID string                     `json:"processor_refund_id,omitempty"`
	TotalRefunded     int64                      `json:"total_refunded"`
	PaymentStatus     ledgerdomain.PaymentStatus `json:"payment_status"`
	CreditID          *snowflake.ID              `json:"credit_id,omitempty"`
	CreditAmount      int64                      `json:"credit_amount,omitempty"`
	// Unresolved is set when the processor call timed out. The refund stays
	// pending until its webhook arrives.
	Unresolved bool `json:"unresolved,omitempty"`
}

type Service interface {
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

var (
	ErrInvalidPayment       = errors.New("invalid_payment")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrPaymentNotFound      = errors.New("payment_not_found")
	ErrPaymentNotRefundable = errors.New("payment_not_refundable")
	ErrRefundExceedsPayment = errors.New("refund_exceeds_payment")
	ErrRefundRejected       = errors.New("refund_rejected")
)
