package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mdouchement/timecapsule/internal/delivery"
	"github.com/mdouchement/timecapsule/internal/tcerror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type (
	// Handlers holds dependencies for MCP tool handlers.
	Handlers struct {
		capsules *delivery.Service
		logger   logrus.FieldLogger
	}

	// ListRequest represents the arguments for capsule_list.
	ListRequest struct {
		OwnerID int `json:"owner_id"`
	}

	// CheckInRequest represents the arguments for capsule_checkin.
	CheckInRequest struct {
		OwnerID  int    `json:"owner_id"`
		Location string `json:"location"`
	}

	// MilestonesRequest represents the arguments for capsule_milestones.
	// A zero owner evaluates all the owners.
	MilestonesRequest struct {
		OwnerID     int  `json:"owner_id,omitempty"`
		TargetCount *int `json:"target_count,omitempty"`
	}

	// CapsuleSummary is a capsule as listed to operators. Messages are never exposed.
	CapsuleSummary struct {
		ID           int        `json:"id"`
		Title        string     `json:"title"`
		TriggerType  string     `json:"trigger_type"`
		TriggerValue string     `json:"trigger_value"`
		Type         string     `json:"type,omitempty"`
		Delivered    bool       `json:"is_delivered"`
		CreatedAt    *time.Time `json:"created_at,omitempty"`
		OpenedAt     *time.Time `json:"opened_at,omitempty"`
	}
)

// NewHandlers creates a new Handlers instance.
func NewHandlers(capsules *delivery.Service, logger logrus.FieldLogger) *Handlers {
	return &Handlers{capsules: capsules, logger: logger}
}

// HandleList handles the capsule_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return h.errorResult(invalid(err.Error())), nil
	}
	if input.OwnerID <= 0 {
		return h.errorResult(invalid("owner_id is required.")), nil
	}

	views, err := h.capsules.ListAndSweep(ctx, input.OwnerID)
	if err != nil {
		return h.errorResult(err), nil
	}

	capsules := make([]CapsuleSummary, 0, len(views))
	for _, v := range views {
		capsules = append(capsules, CapsuleSummary{
			ID:           v.Capsule.ID,
			Title:        v.Capsule.Title,
			TriggerType:  string(v.Capsule.TriggerKind),
			TriggerValue: v.Capsule.TriggerValue,
			Type:         v.Capsule.Type,
			Delivered:    v.Capsule.Delivered,
			CreatedAt:    v.Capsule.CreatedAt,
			OpenedAt:     v.Capsule.OpenedAt,
		})
	}
	return successResult(map[string]any{"capsules": capsules})
}

// HandleSweep handles the capsule_sweep tool call.
func (h *Handlers) HandleSweep(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := h.capsules.SweepAllPending(ctx)
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(map[string]any{"delivered_count": n})
}

// HandleCheckIn handles the capsule_checkin tool call.
func (h *Handlers) HandleCheckIn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CheckInRequest](req)
	if err != nil {
		return h.errorResult(invalid(err.Error())), nil
	}
	if input.OwnerID <= 0 {
		return h.errorResult(invalid("owner_id is required.")), nil
	}

	result, err := h.capsules.CheckIn(ctx, input.OwnerID, input.Location)
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(map[string]any{
		"delivered": result.Delivered,
		"count":     result.Count,
		"message":   result.Message,
	})
}

// HandleMilestones handles the capsule_milestones tool call.
func (h *Handlers) HandleMilestones(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MilestonesRequest](req)
	if err != nil {
		return h.errorResult(invalid(err.Error())), nil
	}
	if input.OwnerID < 0 {
		return h.errorResult(invalid("owner_id must be positive.")), nil
	}

	var n int
	if input.TargetCount != nil {
		n, err = h.capsules.SimulateMilestones(ctx, input.OwnerID, *input.TargetCount)
	} else {
		n, err = h.capsules.EvaluateMilestones(ctx, input.OwnerID)
	}
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(map[string]any{"delivered_count": n})
}

// HandleReminders handles the capsule_reminders tool call.
func (h *Handlers) HandleReminders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := h.capsules.SendReminders(ctx)
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(map[string]any{"reminded_count": n})
}

func invalid(message string) error {
	return tcerror.NewWithTagCode(http.StatusBadRequest, "invalid_parameters", message)
}

// errorResult creates an MCP error result.
// Internal errors are logged and never detailed to the client.
func (h *Handlers) errorResult(err error) *mcp.CallToolResult {
	status := tcerror.StatusCode(err)
	message := "an internal error occurred"
	if status < 500 {
		message = errors.Cause(err).Error()
	} else {
		h.logger.WithError(err).Error("Tool failure")
	}

	content, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"status":  status,
		},
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
