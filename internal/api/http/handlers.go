// Package http serves the control API: running applications, pending
// prompts, the denial audit and the trust stores.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/netlaunch/internal/launcher"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/security"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"github.com/GriffinCanCode/netlaunch/internal/trust"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Applications is the part of the launcher the API drives.
type Applications interface {
	Load(ctx context.Context, ref string) (*descriptor.Descriptor, error)
	Launch(ctx context.Context, d *descriptor.Descriptor) (id.ApplicationHandle, error)
	Stop(h id.ApplicationHandle) error
	Get(h id.ApplicationHandle) (launcher.Status, bool)
	List() []launcher.Status
}

// Auditor exposes recent permission denials.
type Auditor interface {
	Audit() []security.Denial
}

// Certificates lists the trusted certificates.
type Certificates interface {
	Certificates() []trust.Certificate
}

// Prompts is a queue of questions answered through the API.
type Prompts interface {
	Pending() []prompt.Request
	Resolve(id string, d prompt.Decision) error
}

// Traces exposes recently finished spans.
type Traces interface {
	Recent() []tracing.Span
}

// Deps are the collaborators behind the handlers. Everything except Apps is
// optional.
type Deps struct {
	Apps         Applications
	Audit        Auditor
	Certificates Certificates
	Prompts      Prompts
	Traces       Traces
	Metrics      *monitoring.Metrics
	Logger       *logging.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	deps    Deps
	logger  *logging.Logger
	started time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, logger: deps.Logger.Component("api"), started: time.Now()}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "netlaunch",
	})
}

// Health reports uptime and the number of running applications.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"uptime":       time.Since(h.started).Round(time.Second).String(),
		"applications": len(h.deps.Apps.List()),
		"prompts":      h.deps.Prompts != nil,
	})
}

// LaunchRequest names the descriptor to launch by URL or local path.
type LaunchRequest struct {
	Descriptor string `json:"descriptor" binding:"required"`
}

// ListApps lists running applications.
func (h *Handlers) ListApps(c *gin.Context) {
	apps := h.deps.Apps.List()
	if apps == nil {
		apps = []launcher.Status{}
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

// GetApp returns one application.
func (h *Handlers) GetApp(c *gin.Context) {
	handle, ok := h.handle(c)
	if !ok {
		return
	}
	st, ok := h.deps.Apps.Get(handle)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "application not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// LaunchApp loads and launches a descriptor. The call returns once the
// application is running or the launch has failed, which may include time
// spent waiting on security prompts.
func (h *Handlers) LaunchApp(c *gin.Context) {
	var req LaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "descriptor is required"})
		return
	}

	ctx := c.Request.Context()
	d, err := h.deps.Apps.Load(ctx, req.Descriptor)
	if err != nil {
		h.fail(c, err)
		return
	}
	handle, err := h.deps.Apps.Launch(ctx, d)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("launched via api", zap.String("app", handle.String()), zap.String("descriptor", req.Descriptor))
	st, _ := h.deps.Apps.Get(handle)
	c.JSON(http.StatusCreated, gin.H{"handle": handle, "app": st})
}

// StopApp stops an application. Stopping one that already stopped succeeds.
func (h *Handlers) StopApp(c *gin.Context) {
	handle, ok := h.handle(c)
	if !ok {
		return
	}
	if err := h.deps.Apps.Stop(handle); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"handle": handle, "stopped": true})
}

func (h *Handlers) handle(c *gin.Context) (id.ApplicationHandle, bool) {
	handle, err := id.ParseApplicationHandle(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return handle, true
}

// fail maps the launcher's error taxonomy to a status code.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var (
		parseErr  *errs.ParseError
		fetchErr  *errs.FetchError
		launchErr *errs.LaunchFailure
	)
	switch {
	case errors.Is(err, launcher.ErrUnknownApplication), errors.Is(err, prompt.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.As(err, &launchErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
