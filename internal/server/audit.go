package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/dojopay/internal/audit/domain"
	obslogger "github.com/smallbiznis/dojopay/internal/observability/logger"
	"go.uber.org/zap"
)

// ListAuditLogs pages through recorded staff actions, newest first.
func (s *Server) ListAuditLogs(c *gin.Context) {
	startAt, err := parseOptionalTime(c.Query("start_at"), false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(c.Query("end_at"), true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	pageSize := 0
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		pageSize, err = strconv.Atoi(raw)
		if err != nil || pageSize < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
			return
		}
	}

	resp, err := s.audit.List(c.Request.Context(), auditdomain.ListRequest{
		Action:     strings.TrimSpace(c.Query("action")),
		TargetType: strings.TrimSpace(c.Query("target_type")),
		TargetID:   strings.TrimSpace(c.Query("target_id")),
		StartAt:    startAt,
		EndAt:      endAt,
		PageToken:  strings.TrimSpace(c.Query("page_token")),
		PageSize:   pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// recordAudit never fails the request; the action already happened.
func (s *Server) recordAudit(ctx context.Context, entry auditdomain.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("audit.record.failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}
