package rules

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"routing-backend/internal/shared/server/middleware"
	"routing-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the rules service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches rule routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/routing/rules", h.listRules)
	rg.POST("/routing/rules", h.createRule)
	rg.GET("/routing/rules/:id", h.getRule)
	rg.PATCH("/routing/rules/:id", h.updateRule)
	rg.DELETE("/routing/rules/:id", h.deleteRule)
}

type createRuleRequest struct {
	Condition json.RawMessage `json:"condition"`
	Action    Action          `json:"action"`
	Priority  *int            `json:"priority"`
	IsActive  *bool           `json:"isActive"`
}

type updateRuleRequest struct {
	IsActive *bool `json:"isActive"`
}

func (h *Handler) listRules(c *gin.Context) {
	teamID := middleware.TeamIDFromContext(c)
	list, err := h.Svc.List(c.Request.Context(), teamID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list rules", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"rules": list})
}

func (h *Handler) getRule(c *gin.Context) {
	rule, err := h.Svc.Get(c.Request.Context(), middleware.TeamIDFromContext(c), c.Param("id"))
	if err != nil {
		writeRuleError(c, err, "failed to fetch rule")
		return
	}
	respond.JSON(c, http.StatusOK, rule)
}

func (h *Handler) createRule(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if len(req.Condition) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "condition is required", []map[string]string{
			{"field": "condition", "issue": "required"},
		})
		return
	}
	cond, err := UnmarshalCondition(req.Condition)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), []map[string]string{
			{"field": "condition", "issue": "invalid"},
		})
		return
	}

	in := CreateInput{Condition: cond, Action: req.Action, Priority: req.Priority}
	if req.IsActive != nil {
		in.Inactive = !*req.IsActive
	}
	rule, err := h.Svc.Create(c.Request.Context(), middleware.TeamIDFromContext(c), in)
	if err != nil {
		writeRuleError(c, err, "failed to create rule")
		return
	}
	respond.JSON(c, http.StatusCreated, rule)
}

func (h *Handler) updateRule(c *gin.Context) {
	var req updateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "isActive is required", []map[string]string{
			{"field": "isActive", "issue": "required"},
		})
		return
	}
	rule, err := h.Svc.Toggle(c.Request.Context(), middleware.TeamIDFromContext(c), c.Param("id"), *req.IsActive)
	if err != nil {
		writeRuleError(c, err, "failed to update rule")
		return
	}
	respond.JSON(c, http.StatusOK, rule)
}

func (h *Handler) deleteRule(c *gin.Context) {
	if err := h.Svc.Delete(c.Request.Context(), middleware.TeamIDFromContext(c), c.Param("id")); err != nil {
		writeRuleError(c, err, "failed to delete rule")
		return
	}
	c.Status(http.StatusNoContent)
}

func writeRuleError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "rule not found", nil)
	case errors.Is(err, ErrInvalidRule):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotPending):
		respond.Error(c, http.StatusConflict, "not_pending", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
