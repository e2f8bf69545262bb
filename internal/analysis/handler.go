package analysis

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"routing-backend/internal/rules"
	"routing-backend/internal/shared/server/middleware"
	"routing-backend/internal/shared/server/respond"
)

const maxListLimit = 100

// Handler exposes analysis runs over HTTP. The per-team daily run allowance
// is enforced by the engine, so a trigger that joins an existing run is never
// refused.
type Handler struct {
	Engine *Engine
}

// NewHandler constructs a Handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{Engine: engine}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analysis/runs", h.trigger)
	rg.GET("/analysis/runs", h.list)
	rg.GET("/analysis/runs/:id", h.get)
	rg.POST("/analysis/runs/:id/review", h.review)
	rg.POST("/analysis/runs/:id/rules/:ruleId/approve", h.approve)
	rg.POST("/analysis/runs/:id/rules/:ruleId/reject", h.reject)
}

type triggerRequest struct {
	RunType string `json:"runType"`
}

func (h *Handler) trigger(c *gin.Context) {
	var req triggerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}
	runType, err := ParseRunType(req.RunType)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "runType must be daily or weekly", []map[string]string{
			{"field": "runType", "issue": "invalid"},
		})
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	run, err := h.Engine.Trigger(ctx, middleware.TeamIDFromContext(c), runType)
	if err != nil {
		writeAnalysisError(c, err, "failed to start analysis")
		return
	}
	respond.Accepted(c, run)
}

func (h *Handler) list(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 20, 1, maxListLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0, 0, -1)
	if !ok {
		return
	}
	runs, err := h.Engine.List(c.Request.Context(), middleware.TeamIDFromContext(c), limit, offset)
	if err != nil {
		writeAnalysisError(c, err, "failed to list analysis runs")
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"items": runs, "limit": limit, "offset": offset})
}

func (h *Handler) get(c *gin.Context) {
	run, err := h.Engine.Get(c.Request.Context(), middleware.TeamIDFromContext(c), c.Param("id"))
	if err != nil {
		writeAnalysisError(c, err, "failed to load analysis run")
		return
	}
	respond.JSON(c, http.StatusOK, run)
}

func (h *Handler) review(c *gin.Context) {
	run, err := h.Engine.MarkReviewed(c.Request.Context(), middleware.TeamIDFromContext(c), c.Param("id"))
	if err != nil {
		writeAnalysisError(c, err, "failed to mark analysis reviewed")
		return
	}
	respond.JSON(c, http.StatusOK, run)
}

func (h *Handler) approve(c *gin.Context) {
	rule, err := h.Engine.ApproveRule(c.Request.Context(), middleware.TeamIDFromContext(c), c.Param("id"), c.Param("ruleId"))
	if err != nil {
		writeAnalysisError(c, err, "failed to approve rule")
		return
	}
	respond.JSON(c, http.StatusOK, rule)
}

func (h *Handler) reject(c *gin.Context) {
	outcome, err := h.Engine.RejectRule(c.Request.Context(), middleware.TeamIDFromContext(c), c.Param("id"), c.Param("ruleId"))
	if err != nil {
		writeAnalysisError(c, err, "failed to reject rule")
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"ruleId": c.Param("ruleId"),
		"status": outcome,
		"noop":   outcome != rules.RejectDeleted,
	})
}

func queryInt(c *gin.Context, key string, def, min, max int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || (max >= 0 && n > max) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid "+key, []map[string]string{
			{"field": key, "issue": "out of range"},
		})
		return 0, false
	}
	return n, true
}

func writeAnalysisError(c *gin.Context, err error, fallback string) {
	var quota *QuotaError
	switch {
	case errors.As(err, &quota):
		retryAfterSeconds := int(math.Ceil(quota.RetryAfter.Seconds()))
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "daily analysis limit reached", gin.H{
			"limit":        quota.Limit,
			"retryAfterMs": quota.RetryAfter.Milliseconds(),
		})
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound), errors.Is(err, rules.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, rules.ErrNotPending):
		respond.Error(c, http.StatusConflict, "conflict", "rule was not proposed by an analysis run", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
