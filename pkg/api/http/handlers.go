package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/genoflow/genoflow/pkg/domain"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"run_id":    s.controller.RunID(),
	})
}

// handleGetRun reports the run's aggregate status
func (s *Server) handleGetRun(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Status())
}

// handleListSamples lists the discovered samples
func (s *Server) handleListSamples(c *gin.Context) {
	samples := s.controller.Samples()
	c.JSON(http.StatusOK, gin.H{
		"samples": samples,
		"total":   len(samples),
	})
}

// handleListInstances lists task instances, optionally filtered by state or
// sample: /api/v1/run/instances?state=failed&sample=S1
func (s *Server) handleListInstances(c *gin.Context) {
	instances := s.controller.Instances()

	stateFilter := domain.InstanceState(c.Query("state"))
	sampleFilter := c.Query("sample")

	filtered := make([]domain.TaskInstance, 0, len(instances))
	for _, inst := range instances {
		if stateFilter != "" && inst.State != stateFilter {
			continue
		}
		if sampleFilter != "" && inst.SampleID != sampleFilter {
			continue
		}
		filtered = append(filtered, inst)
	}

	c.JSON(http.StatusOK, gin.H{
		"instances": filtered,
		"total":     len(filtered),
	})
}

// handleCancelRun cancels the run
func (s *Server) handleCancelRun(c *gin.Context) {
	status := s.controller.Status()
	if status.Status != domain.RunRunning {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_RUNNING",
				Message: "Run already finished",
				Details: status.Status,
			},
		})
		return
	}

	s.controller.Cancel()
	c.JSON(http.StatusOK, gin.H{
		"run_id":       s.controller.RunID(),
		"status":       "cancelling",
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}
