package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/dojopay/internal/audit/domain"
	freezedomain "github.com/smallbiznis/dojopay/internal/freeze/domain"
)

type createFreezeRequest struct {
	StartDate    string          `json:"start_date" binding:"required"`
	EndDate      string          `json:"end_date"`
	FrozenAmount decimal.Decimal `json:"frozen_amount"`
	Reason       string          `json:"reason" binding:"max=500"`
}

type updateFreezeRequest struct {
	StartDate    *string          `json:"start_date"`
	EndDate      *string          `json:"end_date"`
	FrozenAmount *decimal.Decimal `json:"frozen_amount"`
	Reason       *string          `json:"reason" binding:"omitempty,max=500"`
}

func (s *Server) CreateFreeze(c *gin.Context) {
	subscriptionID, err := pathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createFreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	start, err := parseOptionalTime(req.StartDate, false)
	if err != nil || start == nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "start date must be YYYY-MM-DD"))
		return
	}
	end, err := parseOptionalTime(req.EndDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("end_date", "invalid_end_date", "end date must be YYYY-MM-DD"))
		return
	}
	frozen, err := dollarsToCentsAllowZero("frozen_amount", req.FrozenAmount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.freezes.CreateFreeze(c.Request.Context(), freezedomain.CreateFreezeRequest{
		SubscriptionID: subscriptionID,
		StartDate:      *start,
		EndDate:        end,
		FrozenAmount:   frozen,
		Reason:         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c.Request.Context(), freezeAuditEntry(auditdomain.ActionFreezeCreated, result))

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) UpdateFreeze(c *gin.Context) {
	freezeID, err := pathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateFreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	update := freezedomain.UpdateFreezeRequest{FreezeID: freezeID, Reason: req.Reason}
	if req.StartDate != nil {
		start, err := parseOptionalTime(*req.StartDate, false)
		if err != nil || start == nil {
			AbortWithError(c, newValidationError("start_date", "invalid_start_date", "start date must be YYYY-MM-DD"))
			return
		}
		update.StartDate = start
	}
	if req.EndDate != nil {
		end, err := parseOptionalTime(*req.EndDate, false)
		if err != nil || end == nil {
			AbortWithError(c, newValidationError("end_date", "invalid_end_date", "end date must be YYYY-MM-DD"))
			return
		}
		update.EndDate = end
	}
	if req.FrozenAmount != nil {
		frozen, err := dollarsToCentsAllowZero("frozen_amount", *req.FrozenAmount)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		update.FrozenAmount = &frozen
	}

	result, err := s.freezes.UpdateFreeze(c.Request.Context(), update)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c.Request.Context(), freezeAuditEntry(auditdomain.ActionFreezeUpdated, result))

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) DeleteFreeze(c *gin.Context) {
	freezeID, err := pathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.freezes.DeleteFreeze(c.Request.Context(), freezeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c.Request.Context(), freezeAuditEntry(auditdomain.ActionFreezeDeleted, result))

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func freezeAuditEntry(action string, result *freezedomain.FreezeResult) auditdomain.Entry {
	entry := auditdomain.Entry{Action: action, TargetType: "subscription"}
	if result == nil {
		return entry
	}
	freeze := result.Freeze
	entry.TargetID = freeze.SubscriptionID.String()
	entry.Metadata = map[string]any{
		"freeze_id":            freeze.ID.String(),
		"reallocated":          result.Reallocated,
		"compensation_added":   result.CompensationAdded,
		"compensation_removed": result.CompensationRemoved,
	}
	return entry
}

func dollarsToCentsAllowZero(field string, amount decimal.Decimal) (int64, error) {
	if amount.IsZero() {
		return 0, nil
	}
	if amount.Sign() < 0 {
		return 0, newValidationError(field, "invalid_amount", "amount must not be negative")
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, newValidationError(field, "invalid_amount", "amount has more than two decimal places")
	}
	return cents.IntPart(), nil
}
