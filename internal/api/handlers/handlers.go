// Package handlers implements the thin read-only HTTP status/inspection
// surface (SPEC_FULL.md §6). Presentation is out of scope for the
// scheduling logic itself, but the process needs a way to expose campaign
// and call status, so this surface is kept read-only rather than dropped.
package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/outbound/campaign-dispatcher/internal/repository"
)

// Pinger abstracts a health dependency so HandlerSet doesn't need to import
// database/redis/scylla driver packages directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HandlerSet bundles all HTTP handlers over the read-only repositories.
type HandlerSet struct {
	campaigns repository.CampaignRepository
	stats     repository.CampaignStatisticsRepository
	deps      map[string]Pinger
	log       *zap.Logger
}

// NewHandlerSet constructs a handler bundle. deps are named health
// dependencies (e.g. "postgres", "redis", "scylla") pinged by /healthz.
func NewHandlerSet(
	campaigns repository.CampaignRepository,
	stats repository.CampaignStatisticsRepository,
	deps map[string]Pinger,
	log *zap.Logger,
) *HandlerSet {
	return &HandlerSet{campaigns: campaigns, stats: stats, deps: deps, log: log}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	v1 := app.Group("/api/v1")
	campaigns := v1.Group("/campaigns")
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Get("/:id/stats", h.campaignStats)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{"error": message})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, dep := range h.deps {
		if err := dep.Ping(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}
	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
