package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"networth-api/internal/models"
	"networth-api/internal/repositories"
	"networth-api/internal/services"
)

// PerformanceReader is the snapshot surface the controller needs.
type PerformanceReader interface {
	GetSnapshot(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error)
	ListSnapshots(ctx context.Context, userID int64, from, to time.Time) ([]models.PerformanceSnapshot, error)
	Backfill(ctx context.Context, userID int64, start, end time.Time) (int, error)
	Today() time.Time
}

// RecomputeTrigger recomputes today's snapshot.
type RecomputeTrigger interface {
	OnLedgerChange(ctx context.Context, userID int64, reason string) *services.TriggerResult
}

// StreamServer upgrades a request to a per-user update stream.
type StreamServer interface {
	ServeUser(w http.ResponseWriter, r *http.Request, userID int64)
}

type PerformanceController struct {
	performance PerformanceReader
	triggers    RecomputeTrigger
	stream      StreamServer
	defaultDays int
	logger      *logrus.Entry
}

func NewPerformanceController(performance PerformanceReader, triggers RecomputeTrigger, stream StreamServer, logger *logrus.Logger) *PerformanceController {
	return &PerformanceController{
		performance: performance,
		triggers:    triggers,
		stream:      stream,
		defaultDays: 30,
		logger:      logger.WithField("component", "performance_controller"),
	}
}

func (pc *PerformanceController) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/:userId/snapshots", pc.ListSnapshots)
	r.GET("/:userId/snapshots/:date", pc.GetSnapshot)
	r.POST("/:userId/recompute", pc.Recompute)
	r.POST("/:userId/backfill", pc.Backfill)
	if pc.stream != nil {
		r.GET("/:userId/stream", pc.Stream)
	}
}

func (pc *PerformanceController) GetSnapshot(c *gin.Context) {
	userID, err := parseUserID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	day, err := models.ParseDate(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshot, err := pc.performance.GetSnapshot(c.Request.Context(), userID, day)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
			return
		}
		requestLogger(pc.logger, c).WithError(err).Error("Failed to get snapshot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get snapshot"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// ListSnapshots returns stored rows ascending. Missing dates are absent.
func (pc *PerformanceController) ListSnapshots(c *gin.Context) {
	userID, err := parseUserID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	to := pc.performance.Today()
	if raw := c.Query("to"); raw != "" {
		if to, err = models.ParseDate(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	from := to.AddDate(0, 0, -(pc.defaultDays - 1))
	if raw := c.Query("from"); raw != "" {
		if from, err = models.ParseDate(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	snapshots, err := pc.performance.ListSnapshots(c.Request.Context(), userID, from, to)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		requestLogger(pc.logger, c).WithError(err).Error("Failed to list snapshots")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list snapshots"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"from":      models.FormatDate(from),
		"to":        models.FormatDate(to),
		"count":     len(snapshots),
		"snapshots": snapshots,
	})
}

// Recompute recomputes today. A failure is a soft warning; the previous
// data stays in place.
func (pc *PerformanceController) Recompute(c *gin.Context) {
	userID, err := parseUserID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := pc.triggers.OnLedgerChange(c.Request.Context(), userID, "manual")

	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID,
		"snapshot": result.Snapshot,
		"warning":  firstWarning(result.Warnings),
		"warnings": result.Warnings,
	})
}

// BackfillRequest is the body of a backfill call
type BackfillRequest struct {
	Start string `json:"start" binding:"required,datetime=2006-01-02"`
	End   string `json:"end" binding:"required,datetime=2006-01-02"`
}

// Backfill recomputes a date range. Partial failures answer 207 with the
// failed dates and the last consistent date.
func (pc *PerformanceController) Backfill(c *gin.Context) {
	userID, err := parseUserID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, _ := models.ParseDate(req.Start)
	end, _ := models.ParseDate(req.End)

	written, err := pc.performance.Backfill(c.Request.Context(), userID, start, end)
	if err != nil {
		var partial *services.PartialBackfillError
		switch {
		case errors.Is(err, services.ErrInvalidRange):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &partial):
			failed := make([]string, 0, len(partial.FailedDates))
			for _, d := range partial.FailedDates {
				failed = append(failed, models.FormatDate(d))
			}
			var last string
			if !partial.LastSuccessfulDate.IsZero() {
				last = models.FormatDate(partial.LastSuccessfulDate)
			}
			c.JSON(http.StatusMultiStatus, gin.H{
				"user_id":              userID,
				"run_id":               partial.RunID,
				"written":              written,
				"last_successful_date": last,
				"failed_dates":         failed,
				"error":                err.Error(),
			})
		default:
			requestLogger(pc.logger, c).WithError(err).Error("Backfill failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "backfill failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"start":   req.Start,
		"end":     req.End,
		"written": written,
	})
}

func (pc *PerformanceController) Stream(c *gin.Context) {
	userID, err := parseUserID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pc.stream.ServeUser(c.Writer, c.Request, userID)
}
