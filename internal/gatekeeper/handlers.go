package gatekeeper

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sagexd08/autofi/internal/transactions"
	"github.com/Sagexd08/autofi/internal/validation"
)

// Handler provides the HTTP surface for gating transactions.
type Handler struct {
	gatekeeper *Gatekeeper
	txs        transactions.Store
}

// NewHandler creates a new gatekeeper handler.
func NewHandler(g *Gatekeeper, txs transactions.Store) *Handler {
	return &Handler{gatekeeper: g, txs: txs}
}

// RegisterRoutes sets up gating routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/gate", h.GateTransaction)
	r.POST("/transactions/assess", h.AssessTransaction)
	r.POST("/transactions/quickcheck", h.QuickCheckTransaction)
	r.GET("/transactions/:id", h.GetTransaction)
	r.GET("/transactions", h.ListTransactions)
}

// gateBody is the request payload shared by gate, assess, and quickcheck.
type gateBody struct {
	Draft Draft         `json:"transaction" binding:"required"`
	Agent *AgentContext `json:"agentContext,omitempty"`
}

func (h *Handler) bind(c *gin.Context) (*gateBody, bool) {
	var body gateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "transaction with a destination address is required",
		})
		return nil, false
	}

	errs := validation.Validate(
		validation.Required("transaction.to", body.Draft.To),
		validation.ValidAddress("transaction.to", body.Draft.To),
		validation.ValidWei("transaction.value", body.Draft.Value),
		validation.ValidWei("transaction.gasPrice", body.Draft.GasPrice),
		validation.MaxLength("transaction.data", body.Draft.Data, validation.MaxStringLength),
	)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return nil, false
	}
	return &body, true
}

// GateTransaction handles POST /v1/transactions/gate. This is the real
// decision: records are created and the transaction is routed.
func (h *Handler) GateTransaction(c *gin.Context) {
	body, ok := h.bind(c)
	if !ok {
		return
	}

	decision, err := h.gatekeeper.Gate(c.Request.Context(), &body.Draft, body.Agent)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if decision.Outcome == OutcomePendingApproval {
		status = http.StatusAccepted
	}
	c.JSON(status, decision)
}

// AssessTransaction handles POST /v1/transactions/assess. Dry run: the
// full assessment without creating any records.
func (h *Handler) AssessTransaction(c *gin.Context) {
	body, ok := h.bind(c)
	if !ok {
		return
	}

	assessment, err := h.gatekeeper.GetAssessment(c.Request.Context(), &body.Draft, body.Agent)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// QuickCheckTransaction handles POST /v1/transactions/quickcheck.
func (h *Handler) QuickCheckTransaction(c *gin.Context) {
	body, ok := h.bind(c)
	if !ok {
		return
	}

	qc, err := h.gatekeeper.QuickCheck(&body.Draft, body.Agent)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, qc)
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.txs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, transactions.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transaction",
		})
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ListTransactions handles GET /v1/transactions?agent=...
func (h *Handler) ListTransactions(c *gin.Context) {
	agentID := c.Query("agent")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "agent query parameter is required",
		})
		return
	}

	txs, err := h.txs.ListByAgent(c.Request.Context(), agentID, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list transactions",
		})
		return
	}
	if txs == nil {
		txs = []*transactions.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

// writeError maps gatekeeper errors to HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Gating failed",
	})
}
