// Package mcp exposes the capsule operations as MCP tools for operators.
package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mdouchement/timecapsule/internal/delivery"
	"github.com/sirupsen/logrus"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capsule_list": {
		def: mcp.NewTool("capsule_list",
			mcp.WithDescription("Delivers the overdue date capsules of an owner then lists all the owner's capsules (messages are never returned)."),
			mcp.WithNumber("owner_id", mcp.Required(), mcp.Description("Owner user id")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"capsule_sweep": {
		def: mcp.NewTool("capsule_sweep",
			mcp.WithDescription("Delivers every pending date and milestone capsule whose trigger is met."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSweep },
	},
	"capsule_checkin": {
		def: mcp.NewTool("capsule_checkin",
			mcp.WithDescription("Checks an owner in at a location, delivering the matching location capsules."),
			mcp.WithNumber("owner_id", mcp.Required(), mcp.Description("Owner user id")),
			mcp.WithString("location", mcp.Required(), mcp.Description("Location name, compared case-insensitively")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCheckIn },
	},
	"capsule_milestones": {
		def: mcp.NewTool("capsule_milestones",
			mcp.WithDescription("Evaluates the pending milestone capsules against the milestone provider, or against a simulated count."),
			mcp.WithNumber("owner_id", mcp.Description("Owner user id, all owners when omitted")),
			mcp.WithNumber("target_count", mcp.Description("Simulated milestone count")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMilestones },
	},
	"capsule_reminders": {
		def: mcp.NewTool("capsule_reminders",
			mcp.WithDescription("Sends the due 7-day and 1-day unlock reminders."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReminders },
	},
}

// AllToolNames returns the sorted list of all tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewServer creates a new MCP server with the capsule tools registered.
func NewServer(capsules *delivery.Service, logger logrus.FieldLogger, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"timecapsule",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(capsules, logger)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(capsules *delivery.Service, logger logrus.FieldLogger, version string) error {
	return server.ServeStdio(NewServer(capsules, logger, version))
}
