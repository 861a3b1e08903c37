package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/dojopay/internal/audit/domain"
	obslogger "github.com/smallbiznis/dojopay/internal/observability/logger"
	"github.com/smallbiznis/dojopay/internal/scheduler"
	"go.uber.org/zap"
)

// RunSweep runs one sweep synchronously and returns its result.
func (s *Server) RunSweep(c *gin.Context) {
	job := c.Param("job")
	ctx := c.Request.Context()

	result, err := s.sweeps.RunJob(ctx, job)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		AbortWithError(c, ErrNotFound)
		return
	}
	if result != nil {
		s.recordAudit(ctx, auditdomain.Entry{
			Action:     auditdomain.ActionSweepTriggered,
			TargetType: "sweep",
			TargetID:   job,
			Metadata: map[string]any{
				"run_id":    result.RunID,
				"processed": result.Summary.Processed,
				"failed":    result.Summary.Failed,
				"deferred":  result.Deferred,
			},
		})
	}
	if err != nil {
		obslogger.WithContext(ctx, s.log).Error("sweep.trigger.failed", zap.String("job", job), zap.Error(err))
		if result != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"data": result,
				"error": errorPayload{
					Type:    "internal_error",
					Message: "sweep failed",
				},
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Deferred {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": result})
}
