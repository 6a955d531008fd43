package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"migration-platform/backend/internal/auth"
	"migration-platform/backend/internal/logging"
	"migration-platform/backend/internal/services"
	"migration-platform/backend/pkg/models"
)

// Server holds the dependencies for the flow API.
type Server struct {
	flows     *services.FlowService
	lifecycle *services.LifecycleService
	logger    *logging.Logger
}

// NewServer creates a new Server.
func NewServer(flows *services.FlowService, lifecycle *services.LifecycleService, logger *logging.Logger) *Server {
	return &Server{flows: flows, lifecycle: lifecycle, logger: logger}
}

// RegisterRoutes mounts the flow endpoints on the given group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/flows", s.CreateFlow)
	g.GET("/flows/:flow_id", s.GetFlow)
	g.POST("/flows/:flow_id/phases/:phase", s.UpdatePhase)
	g.PATCH("/flows/:flow_id/status", s.UpdateStatus)
	g.POST("/flows/:flow_id/complete", s.CompleteFlow)
	g.DELETE("/flows/:flow_id", s.DeleteFlow)
}

// scopeOf extracts the tenant scope resolved by the auth middleware.
func scopeOf(c echo.Context) (models.TenantScope, error) {
	scope, ok := auth.ScopeFromContext(c.Request().Context())
	if !ok {
		return models.TenantScope{}, echo.NewHTTPError(http.StatusUnauthorized, "tenant scope not resolved")
	}
	return scope, nil
}

// flowIDOf parses the flow_id path parameter. Malformed UUIDs are rejected
// before any storage access.
func flowIDOf(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("flow_id"))
	if err != nil {
		return uuid.Nil, problem(c, http.StatusBadRequest, "Invalid Flow ID", "flow_id must be a UUID")
	}
	return id, nil
}

// problem writes an RFC 7807 response and returns nil so echo does not
// double-write.
func problem(c echo.Context, status int, title, detail string) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// mapServiceError translates service sentinels into 4xx problem responses;
// anything unrecognized is a storage fault and surfaces as 500.
func (s *Server) mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return problem(c, http.StatusNotFound, "Flow Not Found", err.Error())
	case errors.Is(err, models.ErrInvalidPhase):
		return problem(c, http.StatusBadRequest, "Invalid Phase", err.Error())
	case errors.Is(err, models.ErrInvalidStatus):
		return problem(c, http.StatusBadRequest, "Invalid Status", err.Error())
	case errors.Is(err, models.ErrValidation):
		return problem(c, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, services.ErrFlowConflict):
		return problem(c, http.StatusConflict, "Flow ID Conflict", err.Error())
	}
	s.logger.Error("flow operation failed", "path", c.Request().URL.Path, "error", err)
	return problem(c, http.StatusInternalServerError, "Internal Error", "operation failed")
}

type createFlowRequest struct {
	FlowID       uuid.UUID      `json:"flow_id"`
	RawData      map[string]any `json:"raw_data"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	MasterFlowID *uuid.UUID     `json:"master_flow_id,omitempty"`
}

// CreateFlow creates a discovery flow, idempotent by flow_id.
// (POST /api/v1/flows)
func (s *Server) CreateFlow(c echo.Context) error {
	scope, err := scopeOf(c)
	if err != nil {
		return err
	}

	var req createFlowRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", err.Error())
	}

	flow, err := s.lifecycle.CreateFlow(c.Request().Context(), scope, services.CreateFlowRequest{
		FlowID:       req.FlowID,
		RawData:      req.RawData,
		Metadata:     req.Metadata,
		MasterFlowID: req.MasterFlowID,
	})
	if err != nil {
		return s.mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, flow)
}

// GetFlow returns a flow scoped by tenant.
// (GET /api/v1/flows/:flow_id)
func (s *Server) GetFlow(c echo.Context) error {
	scope, err := scopeOf(c)
	if err != nil {
		return err
	}
	flowID, err := flowIDOf(c)
	if err != nil {
		return err
	}

	flow, err := s.flows.GetFlow(c.Request().Context(), scope, flowID)
	if err != nil {
		return s.mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, flow)
}

type updatePhaseRequest struct {
	Data          map[string]any `json:"data,omitempty"`
	CrewStatus    string         `json:"crew_status,omitempty"`
	Completed     bool           `json:"completed"`
	AgentInsights []any          `json:"agent_insights,omitempty"`
}

// UpdatePhase applies one phase-completion event.
// (POST /api/v1/flows/:flow_id/phases/:phase)
func (s *Server) UpdatePhase(c echo.Context) error {
	scope, err := scopeOf(c)
	if err != nil {
		return err
	}
	flowID, err := flowIDOf(c)
	if err != nil {
		return err
	}

	var req updatePhaseRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", err.Error())
	}

	flow, err := s.flows.UpdatePhaseCompletion(c.Request().Context(), scope, flowID, services.PhaseUpdate{
		Phase:         c.Param("phase"),
		Payload:       req.Data,
		CrewStatus:    req.CrewStatus,
		Completed:     req.Completed,
		AgentInsights: req.AgentInsights,
	})
	if err != nil {
		return s.mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, flow)
}

type updateStatusRequest struct {
	Status             string   `json:"status"`
	ProgressPercentage *float64 `json:"progress_percentage,omitempty"`
}

// UpdateStatus is the externally-forced status transition path.
// (PATCH /api/v1/flows/:flow_id/status)
func (s *Server) UpdateStatus(c echo.Context) error {
	scope, err := scopeOf(c)
	if err != nil {
		return err
	}
	flowID, err := flowIDOf(c)
	if err != nil {
		return err
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", err.Error())
	}

	flow, err := s.flows.UpdateFlowStatus(c.Request().Context(), scope, flowID, req.Status, req.ProgressPercentage)
	if err != nil {
		return s.mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, flow)
}

// CompleteFlow marks a flow completed; idempotent.
// (POST /api/v1/flows/:flow_id/complete)
func (s *Server) CompleteFlow(c echo.Context) error {
	scope, err := scopeOf(c)
	if err != nil {
		return err
	}
	flowID, err := flowIDOf(c)
	if err != nil {
		return err
	}

	flow, err := s.flows.CompleteFlow(c.Request().Context(), scope, flowID)
	if err != nil {
		return s.mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, flow)
}

// DeleteFlow removes a flow.
// (DELETE /api/v1/flows/:flow_id)
func (s *Server) DeleteFlow(c echo.Context) error {
	scope, err := scopeOf(c)
	if err != nil {
		return err
	}
	flowID, err := flowIDOf(c)
	if err != nil {
		return err
	}

	deleted, err := s.lifecycle.DeleteFlow(c.Request().Context(), scope, flowID)
	if err != nil {
		return s.mapServiceError(c, err)
	}
	if !deleted {
		return problem(c, http.StatusNotFound, "Flow Not Found", "no flow with that id in this engagement")
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}
