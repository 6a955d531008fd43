package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"migration-platform/backend/internal/services"
	"migration-platform/backend/pkg/models"
)

// Server exposes flow operations as MCP tools for the agent-orchestration
// side (field-mapping crews, 6R strategy agents). Agents run system-side,
// so the tenant scope arrives as tool arguments rather than via HTTP auth.
type Server struct {
	mcpServer *server.MCPServer
	flows     *services.FlowService
}

// NewServer creates the MCP server and registers the flow tools.
func NewServer(flows *services.FlowService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Migration Discovery Flows",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		flows: flows,
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for mounting.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_discovery_flow",
			mcp.WithDescription("Fetch a discovery flow's phase state and progress"),
			mcp.WithString("flow_id", mcp.Required(), mcp.Description("External flow id (UUID)")),
			mcp.WithString("client_account_id", mcp.Required(), mcp.Description("Tenant client account id (UUID)")),
			mcp.WithString("engagement_id", mcp.Required(), mcp.Description("Tenant engagement id (UUID)")),
		),
		s.handleGetFlow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"update_phase_completion",
			mcp.WithDescription("Record phase progress or completion on a discovery flow"),
			mcp.WithString("flow_id", mcp.Required(), mcp.Description("External flow id (UUID)")),
			mcp.WithString("client_account_id", mcp.Required(), mcp.Description("Tenant client account id (UUID)")),
			mcp.WithString("engagement_id", mcp.Required(), mcp.Description("Tenant engagement id (UUID)")),
			mcp.WithString("phase", mcp.Required(), mcp.Description("Phase name (e.g. data_import, field_mapping)")),
			mcp.WithBoolean("completed", mcp.Description("Mark the phase completed")),
			mcp.WithString("crew_status", mcp.Description("Agent crew status label")),
			mcp.WithObject("data", mcp.Description("Phase result payload")),
			mcp.WithArray("agent_insights", mcp.Description("Insights gathered by the agent crew")),
		),
		s.handleUpdatePhase,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_discovery_flow",
			mcp.WithDescription("Mark a discovery flow completed (idempotent)"),
			mcp.WithString("flow_id", mcp.Required(), mcp.Description("External flow id (UUID)")),
			mcp.WithString("client_account_id", mcp.Required(), mcp.Description("Tenant client account id (UUID)")),
			mcp.WithString("engagement_id", mcp.Required(), mcp.Description("Tenant engagement id (UUID)")),
		),
		s.handleCompleteFlow,
	)
}

// toolScope parses flow_id and tenant scope out of tool arguments.
func toolScope(args map[string]any) (uuid.UUID, models.TenantScope, error) {
	flowID, err := uuid.Parse(str(args, "flow_id"))
	if err != nil {
		return uuid.Nil, models.TenantScope{}, fmt.Errorf("flow_id must be a UUID")
	}
	clientAccountID, err := uuid.Parse(str(args, "client_account_id"))
	if err != nil {
		return uuid.Nil, models.TenantScope{}, fmt.Errorf("client_account_id must be a UUID")
	}
	engagementID, err := uuid.Parse(str(args, "engagement_id"))
	if err != nil {
		return uuid.Nil, models.TenantScope{}, fmt.Errorf("engagement_id must be a UUID")
	}
	return flowID, models.TenantScope{ClientAccountID: clientAccountID, EngagementID: engagementID}, nil
}

func str(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func (s *Server) handleGetFlow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	flowID, scope, err := toolScope(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	flow, err := s.flows.GetFlow(ctx, scope, flowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get flow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(flow)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleUpdatePhase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	flowID, scope, err := toolScope(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	phase := str(args, "phase")
	if phase == "" {
		return mcp.NewToolResultError("Missing required parameter: phase"), nil
	}
	completed, _ := args["completed"].(bool)
	payload, _ := args["data"].(map[string]any)
	insights, _ := args["agent_insights"].([]any)

	flow, err := s.flows.UpdatePhaseCompletion(ctx, scope, flowID, services.PhaseUpdate{
		Phase:         phase,
		Payload:       payload,
		CrewStatus:    str(args, "crew_status"),
		Completed:     completed,
		AgentInsights: insights,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update phase: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(flow)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCompleteFlow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	flowID, scope, err := toolScope(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	flow, err := s.flows.CompleteFlow(ctx, scope, flowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to complete flow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(flow)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers mounts the MCP SSE endpoints on the given mux.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
