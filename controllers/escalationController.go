package controllers

import (
	"context"
	"net/http"

	"civicsync-dispatch/escalation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SweepRunner runs one escalation sweep.
type SweepRunner interface {
	RunOnce(ctx context.Context) (escalation.Report, bool, error)
}

type EscalationController struct {
	runner SweepRunner
	logger *zap.Logger
}

func NewEscalationController(runner SweepRunner, logger *zap.Logger) *EscalationController {
	return &EscalationController{runner: runner, logger: logger}
}

// TriggerSweep runs the escalation sweep now instead of waiting for the next tick.
func (ec *EscalationController) TriggerSweep(c *gin.Context) {
	report, ran, err := ec.runner.RunOnce(c.Request.Context())
	if !ran && err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "An escalation sweep is already running"})
		return
	}

	body := gin.H{
		"scanned":   report.Scanned,
		"escalated": report.Escalated,
		"skipped":   report.Skipped,
	}
	if err != nil {
		if report.Scanned == 0 {
			respondError(c, ec.logger, err)
			return
		}
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}
