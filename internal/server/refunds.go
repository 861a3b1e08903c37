package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/dojopay/internal/audit/domain"
	refunddomain "github.com/smallbiznis/dojopay/internal/refund/domain"
)

type createRefundRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason" binding:"max=500"`
	CreditRemainder bool            `json:"credit_remainder"`
}

func (s *Server) CreateRefund(c *gin.Context) {
	paymentID, err := pathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	amount, err := dollarsToCents(req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.refunds.RefundPayment(c.Request.Context(), refunddomain.RefundRequest{
		PaymentID:       paymentID,
		Amount:          amount,
		Reason:          strings.TrimSpace(req.Reason),
		CreditRemainder: req.CreditRemainder,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c.Request.Context(), auditdomain.Entry{
		Action:     auditdomain.ActionRefundCreated,
		TargetType: "payment",
		TargetID:   paymentID.String(),
		Metadata: map[string]any{
			"refund_id":        result.RefundID.String(),
			"amount":           result.Amount,
			"payment_status":   string(result.PaymentStatus),
			"credit_amount":    result.CreditAmount,
			"credit_remainder": req.CreditRemainder,
			"reason":           strings.TrimSpace(req.Reason),
			"unresolved":       result.Unresolved,
		},
		Sensitive: map[string]any{"processor_refund_id": result.ProcessorRefundID},
	})

	if result.Unresolved {
		c.JSON(http.StatusAccepted, gin.H{"data": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
