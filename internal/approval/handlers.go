package approval

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Sagexd08/autofi/internal/validation"
)

// Handler provides HTTP endpoints for the approval queue.
type Handler struct {
	service *Service
	hub     *Hub
}

// NewHandler creates a new approval handler. hub may be nil to disable
// the WebSocket stream.
func NewHandler(service *Service, hub *Hub) *Handler {
	return &Handler{service: service, hub: hub}
}

// RegisterRoutes sets up approval routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/approvals", h.ListPending)
	r.GET("/approvals/stats", h.GetStats)
	if h.hub != nil {
		r.GET("/approvals/stream", h.hub.HandleWS)
	}
	r.GET("/approvals/:id", h.GetRequest)
	r.POST("/approvals/:id/approve", h.ApproveRequest)
	r.POST("/approvals/:id/reject", h.RejectRequest)
	r.POST("/approvals/:id/cancel", h.CancelRequest)
}

// ListPending handles GET /v1/approvals
func (h *Handler) ListPending(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	f := Filter{
		Priority: Priority(c.Query("priority")),
		AgentID:  c.Query("agent"),
		UserID:   c.Query("user"),
		Limit:    limit,
	}

	pending, err := h.service.ListPending(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list pending approvals",
		})
		return
	}
	if pending == nil {
		pending = []*Request{}
	}
	c.JSON(http.StatusOK, gin.H{"approvals": pending, "count": len(pending)})
}

// GetStats handles GET /v1/approvals/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "stats_failed",
			"message": "Failed to compute approval stats",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetRequest handles GET /v1/approvals/:id
func (h *Handler) GetRequest(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type approveBody struct {
	ApproverID string `json:"approverId" binding:"required"`
	Comment    string `json:"comment"`
}

// ApproveRequest handles POST /v1/approvals/:id/approve
func (h *Handler) ApproveRequest(c *gin.Context) {
	var body approveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "approverId is required",
		})
		return
	}
	body.Comment = validation.SanitizeString(body.Comment, 1000)

	r, err := h.service.Approve(c.Request.Context(), c.Param("id"), body.ApproverID, body.Comment)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type rejectBody struct {
	RejectorID string `json:"rejectorId" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
}

// RejectRequest handles POST /v1/approvals/:id/reject
func (h *Handler) RejectRequest(c *gin.Context) {
	var body rejectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "rejectorId and reason are required",
		})
		return
	}
	body.Reason = validation.SanitizeString(body.Reason, 1000)

	r, err := h.service.Reject(c.Request.Context(), c.Param("id"), body.RejectorID, body.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type cancelBody struct {
	RequestedBy string `json:"requestedBy" binding:"required"`
}

// CancelRequest handles POST /v1/approvals/:id/cancel.
// Only the original requester context may cancel; the store does not
// enforce this, the HTTP layer does.
func (h *Handler) CancelRequest(c *gin.Context) {
	var body cancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "requestedBy is required",
		})
		return
	}

	existing, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if body.RequestedBy != existing.UserID && body.RequestedBy != existing.AgentID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Only the original requester may cancel",
		})
		return
	}

	r, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// writeError maps service errors to HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Approval request not found",
		})
	case errors.Is(err, ErrExpired):
		c.JSON(http.StatusGone, gin.H{
			"error":   "expired",
			"message": "Approval request has expired",
		})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNoReason):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Rejection requires a reason",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Operation failed",
		})
	}
}
