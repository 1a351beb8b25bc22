package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/outbound/campaign-dispatcher/internal/domain"
)

type campaignResponse struct {
	ID              string                `json:"id"`
	TenantID        string                `json:"tenant_id"`
	Name            string                `json:"name"`
	Status          domain.CampaignStatus `json:"status"`
	StartTime       *time.Time            `json:"start_time,omitempty"`
	EndTime         *time.Time            `json:"end_time,omitempty"`
	ScriptID        string                `json:"script_id"`
	CallIntervalSec int                   `json:"call_interval_sec"`
	MaxCallback     int                   `json:"max_callback"`
	MaxCallTimeSec  int                   `json:"max_call_time_sec"`
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:              c.ID,
		TenantID:        c.TenantID,
		Name:            c.Name,
		Status:          c.Status,
		StartTime:       c.StartTime,
		EndTime:         c.EndTime,
		ScriptID:        c.ScriptID,
		CallIntervalSec: c.CallIntervalSec,
		MaxCallback:     c.MaxCallback,
		MaxCallTimeSec:  c.MaxCallTimeSec,
	}
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type campaignStatsResponse struct {
	DispatchedTotal       int64 `json:"dispatched_total"`
	RetriesScheduledTotal int64 `json:"retries_scheduled_total"`
	SuccessTotal          int64 `json:"success_total"`
	ExhaustedTotal        int64 `json:"exhausted_total"`
}

// listCampaigns returns running campaigns by default, or stopped ones when
// ?status=stopped is given — this surface is read-only and never accepts a
// filter that would change scheduling behavior.
func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	var (
		campaigns []*domain.Campaign
		err       error
	)
	if ctx.Query("status") == "stopped" {
		campaigns, err = h.campaigns.GetStoppedCampaigns(ctx.Context())
	} else {
		campaigns, err = h.campaigns.GetRunningCampaigns(ctx.Context())
	}
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	campaign, err := h.campaigns.GetCampaignByID(ctx.Context(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	if h.stats == nil {
		return fiber.NewError(http.StatusNotImplemented, "campaign statistics are not configured")
	}
	stats, err := h.stats.Get(ctx.Context(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(campaignStatsResponse{
		DispatchedTotal:       stats.DispatchedTotal,
		RetriesScheduledTotal: stats.RetriesScheduledTotal,
		SuccessTotal:          stats.SuccessTotal,
		ExhaustedTotal:        stats.ExhaustedTotal,
	})
}
