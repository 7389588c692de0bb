// Package httpapi exposes the public HTTP surface: channel webhooks
// and the tenant administration API.
package httpapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/internal/usecase"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

// InboundRouter is the slice of the routing pipeline webhooks need.
type InboundRouter interface {
	Route(ctx context.Context, msg model.InboundMessage) (*usecase.RouteResult, error)
}

// Server wires the fiber app with all HTTP handlers.
type Server struct {
	app    *fiber.App
	cfg    *config.Config
	router InboundRouter

	tenantRepo   storage.TenantRepo
	leadRepo     storage.LeadRepo
	ruleRepo     storage.RuleRepo
	followupRepo storage.FollowupRepo

	leads   *usecase.LeadService
	assigns *usecase.AssignService
	stages  *usecase.StageService
}

// NewServer builds the fiber app and registers all routes.
func NewServer(
	cfg *config.Config,
	router InboundRouter,
	tenantRepo storage.TenantRepo,
	leadRepo storage.LeadRepo,
	ruleRepo storage.RuleRepo,
	followupRepo storage.FollowupRepo,
	leads *usecase.LeadService,
	assigns *usecase.AssignService,
	stages *usecase.StageService,
) *Server {
	s := &Server{
		cfg:          cfg,
		router:       router,
		tenantRepo:   tenantRepo,
		leadRepo:     leadRepo,
		ruleRepo:     ruleRepo,
		followupRepo: followupRepo,
		leads:        leads,
		assigns:      assigns,
		stages:       stages,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "crm-lead-router",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(requestLogger)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/webhooks/cloud/:identity", s.VerifyCloudWebhook)
	s.app.Post("/webhooks/cloud", s.HandleCloudWebhook)
	s.app.Post("/webhooks/web", s.HandleWebChat)

	api := s.app.Group("/api/v1")
	api.Get("/tenants/:tenantID/leads", s.ListLeads)
	api.Post("/tenants/:tenantID/leads/bulk-assign", s.BulkAssignLeads)
	api.Patch("/leads/:id/status", s.UpdateLeadStatus)
	api.Patch("/leads/:id/stage", s.MoveLeadStage)
	api.Patch("/leads/:id/category", s.SetLeadCategory)
	api.Patch("/leads/:id/handoff", s.SetLeadHandoff)

	api.Get("/tenants/:tenantID/rules", s.ListRules)
	api.Post("/tenants/:tenantID/rules", s.SaveRule)
	api.Delete("/tenants/:tenantID/rules/:ruleID", s.DeleteRule)

	api.Get("/tenants/:tenantID/stages", s.ListStages)
	api.Post("/tenants/:tenantID/stages", s.SaveStage)
	api.Post("/tenants/:tenantID/stages/seed", s.SeedStages)
	api.Delete("/tenants/:tenantID/stages/:stageKey", s.DeleteStage)

	api.Get("/tenants/:tenantID/diagnostics", s.TenantDiagnostics)
	api.Get("/workers/followup", s.FollowupWorkerStatus)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving the configured port.
func (s *Server) Listen() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestLogger attaches a request-scoped logger with a request id to
// the user context so downstream code logs with correlation.
func requestLogger(c *fiber.Ctx) error {
	requestID := c.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := logger.Log.With(
		zap.String("request_id", requestID),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
	)
	c.Set("X-Request-ID", requestID)
	c.SetUserContext(logger.WithLogger(c.UserContext(), log))
	return c.Next()
}

// errorResponse is the uniform error payload of the admin API. The
// message never carries raw internals for server-side failures.
type errorResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// errorHandler maps application errors to status codes and reason codes.
func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(errorResponse{
			OK:   false,
			Code: "bad_request",
		})
	}

	status := statusFor(err)
	resp := errorResponse{OK: false, Code: apperrors.ReasonCode(err)}
	if status < fiber.StatusInternalServerError {
		resp.Message = err.Error()
	} else {
		logger.FromContext(c.UserContext()).Error("Request failed", zap.Error(err))
	}
	return c.Status(status).JSON(resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrBadRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, apperrors.ErrDuplicate), errors.Is(err, apperrors.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, apperrors.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, apperrors.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrTimeout):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
