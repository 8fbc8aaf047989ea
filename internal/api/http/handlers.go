package http

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/GriffinCanCode/corsbroker/internal/api/payload"
	"github.com/GriffinCanCode/corsbroker/internal/domain/broker"
	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/gin-gonic/gin"
)

const version = "1.0.0"

// Service is the broker surface used by the REST handlers.
type Service interface {
	GetAllRules(ctx context.Context) ([]*permission.Rule, error)
	DeleteOrigin(ctx context.Context, origin string) error
	RequestAllHosts(ctx context.Context, origin string) error
	Prompts() []broker.Prompt
	Prompt(origin string) (broker.Prompt, bool)
	AcceptRequestHosts(ctx context.Context, origin string, hosts []string) error
	RejectRequestHosts(ctx context.Context, origin string, hosts []string) error
	DismissPrompt(ctx context.Context, origin string) error
}

// Counter reports a live count, such as open connections.
type Counter interface {
	Len() int
}

// Handlers serves the REST endpoints.
type Handlers struct {
	service Service
	conns   Counter
	metrics *monitoring.Metrics
}

func NewHandlers(service Service, conns Counter, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{service: service, conns: conns, metrics: metrics}
}

// Register mounts every endpoint on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/rules", h.ListRules)
	r.DELETE("/rules", h.DeleteRule)
	r.POST("/rules/all", h.AllowAll)

	r.GET("/prompts", h.ListPrompts)
	r.POST("/prompts/accept", h.AcceptPrompt)
	r.POST("/prompts/reject", h.RejectPrompt)
	r.POST("/prompts/dismiss", h.DismissPrompt)

	r.GET("/rpc/schema", h.Schema)
}

// Root handles the liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "corsbroker",
		"version": version,
	})
}

// Health reports connection and prompt counts.
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"prompts": len(h.service.Prompts()),
	}
	if h.conns != nil {
		body["connections"] = h.conns.Len()
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// ListRules lists the permission store.
func (h *Handlers) ListRules(c *gin.Context) {
	rules, err := h.service.GetAllRules(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

// DeleteRule removes the rule of ?origin=.
func (h *Handlers) DeleteRule(c *gin.Context) {
	origin, err := permission.NormalizeOrigin(c.Query("origin"))
	if err != nil {
		abort(c, err)
		return
	}
	if err := h.service.DeleteOrigin(c.Request.Context(), origin); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "origin": origin})
}

// AllowAll grants an origin access to every host.
func (h *Handlers) AllowAll(c *gin.Context) {
	var req types.OriginPayload
	if err := bind(c, &req, &req.Origin); err != nil {
		abort(c, err)
		return
	}
	if err := h.service.RequestAllHosts(c.Request.Context(), req.Origin); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "origin": req.Origin})
}

// ListPrompts lists pending permission prompts, oldest first.
func (h *Handlers) ListPrompts(c *gin.Context) {
	prompts := h.service.Prompts()
	c.JSON(http.StatusOK, gin.H{"prompts": prompts, "count": len(prompts)})
}

type decisionRequest struct {
	Origin string   `json:"origin" validate:"required,url"`
	Hosts  []string `json:"hosts" validate:"omitempty,dive,required,hostname_rfc1123"`
}

// AcceptPrompt grants the hosts of a prompt. Hosts default to the ones the
// prompt asked for.
func (h *Handlers) AcceptPrompt(c *gin.Context) {
	var req decisionRequest
	if err := bind(c, &req, &req.Origin); err != nil {
		abort(c, err)
		return
	}

	hosts := req.Hosts
	if len(hosts) == 0 {
		p, ok := h.service.Prompt(req.Origin)
		if !ok {
			abort(c, fmt.Errorf("prompt for %s: %w", req.Origin, types.ErrNotFound))
			return
		}
		hosts = p.Hosts
	}

	if err := h.service.AcceptRequestHosts(c.Request.Context(), req.Origin, hosts); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "origin": req.Origin, "hosts": hosts})
}

// RejectPrompt declines a prompt.
func (h *Handlers) RejectPrompt(c *gin.Context) {
	var req decisionRequest
	if err := bind(c, &req, &req.Origin); err != nil {
		abort(c, err)
		return
	}
	if err := h.service.RejectRequestHosts(c.Request.Context(), req.Origin, req.Hosts); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "origin": req.Origin})
}

// DismissPrompt closes a prompt without a decision.
func (h *Handlers) DismissPrompt(c *gin.Context) {
	var req types.OriginPayload
	if err := bind(c, &req, &req.Origin); err != nil {
		abort(c, err)
		return
	}
	if err := h.service.DismissPrompt(c.Request.Context(), req.Origin); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "origin": req.Origin})
}

// bind decodes and validates the body into v, then normalizes *origin,
// which must point into v.
func bind(c *gin.Context, v any, origin *string) error {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", types.ErrInvalidRequest, err)
	}
	if err := payload.Decode(data, v); err != nil {
		return err
	}
	normalized, err := permission.NormalizeOrigin(*origin)
	if err != nil {
		return err
	}
	*origin = normalized
	return nil
}
