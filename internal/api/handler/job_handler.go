package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/ms-media-worker/internal/api/dto"
	"github.com/cuongbtq/ms-media-worker/internal/job"
	"github.com/cuongbtq/ms-media-worker/internal/ledger"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PublishTestJob handles POST /test-job.
// It publishes a sample job; every body field is optional and an empty body is allowed.
func (h *JobHandler) PublishTestJob(c *gin.Context) {
	var req dto.TestJobRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.TestJobResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	desc := job.NewSample(job.SampleOverrides{
		VideoID:  req.VideoID,
		VideoKey: req.VideoKey,
		VideoURL: req.VideoURL,
		FileName: req.FileName,
	}, time.Now())

	result, err := h.publisher.Publish(c.Request.Context(), desc)
	if errors.Is(err, job.ErrInvalidJob) {
		h.logger.Warn("Rejected test job", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.TestJobResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to publish test job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.TestJobResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.TestJobResponse{
		Success:     true,
		JobID:       desc.JobID,
		Subscribers: result.ReceiverCount,
		Delivered:   result.Delivered,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	if !h.ledgerEnabled(c) {
		return
	}

	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	rec, err := h.ledger.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, ledger.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(rec))
}

// ListJobs handles GET /api/v1/jobs
// Lists ledger rows newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	if !h.ledgerEnabled(c) {
		return
	}

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	records, err := h.ledger.List(c.Request.Context(), ledger.Filter{
		Status:   req.Status,
		VideoID:  req.VideoID,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(records) > req.PageSize
	if hasMore {
		records = records[:req.PageSize]
	}

	jobs := make([]dto.JobDTO, len(records))
	for i := range records {
		jobs[i] = toJobDTO(&records[i])
	}

	var nextCursor string
	if hasMore {
		last := records[len(records)-1]
		nextCursor = EncodeJobCursor(&ledger.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: nextCursor,
	})
}

func (h *JobHandler) ledgerEnabled(c *gin.Context) bool {
	if h.ledger != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "Job ledger is not configured",
	})
	return false
}

func toJobDTO(rec *ledger.Record) dto.JobDTO {
	out := dto.JobDTO{
		JobID:          rec.JobID,
		VideoID:        rec.VideoID,
		SourceLocation: rec.SourceLocation,
		Status:         rec.Status,
		WorkerID:       rec.WorkerID,
		Attempts:       rec.Attempts,
		LastError:      rec.LastError,
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.CompletedAt.Valid {
		out.CompletedAt = rec.CompletedAt.Time.Format(time.RFC3339)
	}
	return out
}
