package http

import (
	"net/http"
	"strings"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/security"
	"github.com/GriffinCanCode/netlaunch/internal/trust"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DecisionRequest answers a pending prompt with "allow" or "deny".
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// ListPrompts returns the questions waiting for an answer.
func (h *Handlers) ListPrompts(c *gin.Context) {
	if h.deps.Prompts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "prompts are not answered through the api"})
		return
	}
	pending := h.deps.Prompts.Pending()
	c.JSON(http.StatusOK, gin.H{"prompts": pending, "count": len(pending)})
}

// AnswerPrompt posts the decision for one pending prompt.
func (h *Handlers) AnswerPrompt(c *gin.Context) {
	if h.deps.Prompts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "prompts are not answered through the api"})
		return
	}
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision is required"})
		return
	}

	var d prompt.Decision
	switch strings.ToLower(req.Decision) {
	case "allow":
		d = prompt.Allow
	case "deny":
		d = prompt.Deny
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be allow or deny"})
		return
	}

	promptID := c.Param("id")
	if err := h.deps.Prompts.Resolve(promptID, d); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("prompt answered", zap.String("prompt", promptID), zap.Stringer("decision", d))
	c.JSON(http.StatusOK, gin.H{"id": promptID, "decision": d.String()})
}

// Audit returns recent permission denials, oldest first.
func (h *Handlers) Audit(c *gin.Context) {
	denials := []security.Denial{}
	if h.deps.Audit != nil {
		denials = append(denials, h.deps.Audit.Audit()...)
	}
	c.JSON(http.StatusOK, gin.H{"denials": denials, "count": len(denials)})
}

// ListCertificates returns the certificates of the trust stores.
func (h *Handlers) ListCertificates(c *gin.Context) {
	certs := []trust.Certificate{}
	if h.deps.Certificates != nil {
		certs = append(certs, h.deps.Certificates.Certificates()...)
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs, "count": len(certs)})
}

// ListTraces returns recently finished spans, oldest first.
func (h *Handlers) ListTraces(c *gin.Context) {
	spans := []tracing.Span{}
	if h.deps.Traces != nil {
		spans = append(spans, h.deps.Traces.Recent()...)
	}
	c.JSON(http.StatusOK, gin.H{"spans": spans, "count": len(spans)})
}

// Metrics returns the counters behind the status display.
func (h *Handlers) Metrics(c *gin.Context) {
	if h.deps.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, h.deps.Metrics.Snapshot())
}
