package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/graphqa"
	"github.com/soundprediction/graphqa/pkg/orchestrator"
	"github.com/soundprediction/graphqa/pkg/types"
)

// QueryHandler handles question answering requests
type QueryHandler struct {
	graphqa graphqa.QuestionAnswerer
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(g graphqa.QuestionAnswerer) *QueryHandler {
	return &QueryHandler{
		graphqa: g,
	}
}

// QueryRequest is the request body for POST /api/v1/query
type QueryRequest struct {
	Query    string `json:"query" binding:"required"`
	MaxTurns int    `json:"max_turns,omitempty"`
}

// QueryResponse is the response body for a successfully answered query
type QueryResponse struct {
	Text             string   `json:"text"`
	CitedEvidenceIDs []string `json:"cited_evidence_ids"`
	LowConfidence    bool     `json:"low_confidence"`
	DurationMs       int64    `json:"duration_ms"`
}

// FailureResponse is the response body for a failed session
type FailureResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	LastState string `json:"last_state,omitempty"`
	TurnCount int    `json:"turn_count,omitempty"`
}

// SubmitQuery handles POST /api/v1/query
func (h *QueryHandler) SubmitQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, FailureResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, FailureResponse{Error: "query field is required and cannot be empty"})
		return
	}

	var config *types.SessionConfig
	if req.MaxTurns > 0 {
		config = (&types.SessionConfig{MaxTurns: req.MaxTurns}).WithDefaults()
	}

	start := time.Now()
	answer, err := h.graphqa.SubmitQuery(c.Request.Context(), req.Query, config)
	if err != nil {
		if errors.Is(err, types.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, FailureResponse{Error: err.Error()})
			return
		}
		if report, ok := orchestrator.AsFailureReport(err); ok {
			c.JSON(failureStatus(report.Kind), FailureResponse{
				Error:     "session failed",
				Kind:      string(report.Kind),
				LastState: string(report.LastState),
				TurnCount: report.TurnCount,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, FailureResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, QueryResponse{
		Text:             answer.Text,
		CitedEvidenceIDs: answer.CitedEvidenceIDs,
		LowConfidence:    answer.LowConfidence,
		DurationMs:       time.Since(start).Milliseconds(),
	})
}

// failureStatus maps a failure kind to an HTTP status. Provider and graph
// outages are upstream failures; malformed agent traffic is a server fault.
func failureStatus(kind types.FailureKind) int {
	switch kind {
	case types.FailureExtractionUnavailable, types.FailureGraphUnavailable:
		return http.StatusBadGateway
	case types.FailureSessionAborted:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
