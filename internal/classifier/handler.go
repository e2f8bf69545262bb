package classifier

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"routing-backend/internal/shared/server/middleware"
	"routing-backend/internal/shared/server/respond"
)

// Handler exposes classification over HTTP.
type Handler struct {
	Classifier *Classifier
}

// NewHandler constructs a Handler.
func NewHandler(c *Classifier) *Handler {
	return &Handler{Classifier: c}
}

// RegisterRoutes attaches classifier routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/routing/classify", h.classify)
}

func (h *Handler) classify(c *gin.Context) {
	var task Task
	if err := c.ShouldBindJSON(&task); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	res, err := h.Classifier.ClassifyForTeam(c.Request.Context(), middleware.TeamIDFromContext(c), task, nil)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", "title is required", []map[string]string{
				{"field": "title", "issue": "required"},
			})
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to classify task", nil)
		}
		return
	}
	respond.JSON(c, http.StatusOK, res)
}
