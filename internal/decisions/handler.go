package decisions

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"routing-backend/internal/shared/server/middleware"
	"routing-backend/internal/shared/server/respond"
)

// Handler exposes the ledger over HTTP.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches ledger routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/routing/decisions", h.record)
	rg.GET("/routing/stats", h.stats)
}

type recordRequest struct {
	TaskID              string   `json:"taskId"`
	TaskTitle           string   `json:"taskTitle"`
	TaskDescription     string   `json:"taskDescription"`
	SuggestedDeskID     string   `json:"suggestedDeskId"`
	SuggestedModelID    string   `json:"suggestedModelId"`
	Confidence          *float64 `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	Decision            string   `json:"decision"`
	FinalDeskID         string   `json:"finalDeskId"`
	FinalModelID        string   `json:"finalModelId"`
	ClassifierModel     string   `json:"classifierModel"`
	ClassifierCostUSD   *float64 `json:"classifierCostUsd"`
	ClassifierLatencyMs *int     `json:"classifierLatencyMs"`
	MatchedRules        []string `json:"matchedRules"`
}

func (h *Handler) record(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	d, err := h.Svc.Record(c.Request.Context(), Decision{
		TeamID:              middleware.TeamIDFromContext(c),
		TaskID:              req.TaskID,
		TaskTitle:           req.TaskTitle,
		TaskDescription:     req.TaskDescription,
		SuggestedDeskID:     req.SuggestedDeskID,
		SuggestedModelID:    req.SuggestedModelID,
		Confidence:          req.Confidence,
		Reasoning:           req.Reasoning,
		Decision:            Kind(req.Decision),
		FinalDeskID:         req.FinalDeskID,
		FinalModelID:        req.FinalModelID,
		ClassifierModel:     req.ClassifierModel,
		ClassifierCostUSD:   req.ClassifierCostUSD,
		ClassifierLatencyMs: req.ClassifierLatencyMs,
		MatchedRules:        req.MatchedRules,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to record decision", nil)
		return
	}
	respond.Accepted(c, d)
}

func (h *Handler) stats(c *gin.Context) {
	days := DefaultStatsDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxStatsDays {
			respond.Error(c, http.StatusBadRequest, "validation_error", "days must be between 1 and 365", []map[string]string{
				{"field": "days", "issue": "out of range"},
			})
			return
		}
		days = n
	}

	stats, err := h.Svc.Stats(c.Request.Context(), middleware.TeamIDFromContext(c), days)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load routing stats", nil)
		return
	}
	respond.JSON(c, http.StatusOK, stats)
}
