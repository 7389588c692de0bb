package httpapi

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/internal/validator"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

const (
	defaultLeadPageSize = 50
	maxLeadPageSize     = 200
)

func paramInt64(c *fiber.Ctx, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", apperrors.ErrBadRequest, name)
	}
	return v, nil
}

// ListLeads returns one page of a tenant's leads, newest first, with
// the total for pagination. Lead numbers ride along in the lead JSON.
func (s *Server) ListLeads(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", defaultLeadPageSize)
	if limit <= 0 || limit > maxLeadPageSize {
		limit = defaultLeadPageSize
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	leads, total, err := s.leadRepo.ListLeads(c.UserContext(), tenantID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"ok":     true,
		"leads":  leads,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

type bulkAssignRequest struct {
	LeadIDs []int64 `json:"lead_ids" validate:"required,min=1"`
	// Null or omitted user_id unassigns the leads.
	UserID *int64 `json:"user_id" validate:"omitempty,gt=0"`
}

// BulkAssignLeads assigns a batch of leads to one user, or unassigns
// them when user_id is null, and reports the per-item outcome; a
// partial failure is not an error.
func (s *Server) BulkAssignLeads(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}

	var req bulkAssignRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, err.Error())
	}
	if err := validator.Validate(&req); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}

	outcomes, err := s.assigns.BulkAssign(c.UserContext(), tenantID, req.LeadIDs, req.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "outcomes": outcomes})
}

type leadStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (s *Server) UpdateLeadStatus(c *fiber.Ctx) error {
	leadID, err := paramInt64(c, "id")
	if err != nil {
		return err
	}
	var req leadStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, err.Error())
	}

	lead, err := s.leadRepo.FindLeadByID(c.UserContext(), leadID)
	if err != nil {
		return err
	}
	if err := s.leads.UpdateStatus(c.UserContext(), lead, req.Status); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "lead": lead})
}

type leadStageRequest struct {
	StageKey    string `json:"stage_key" validate:"required"`
	ActorUserID *int64 `json:"actor_user_id,omitempty"`
}

func (s *Server) MoveLeadStage(c *fiber.Ctx) error {
	leadID, err := paramInt64(c, "id")
	if err != nil {
		return err
	}
	var req leadStageRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, err.Error())
	}

	lead, err := s.leadRepo.FindLeadByID(c.UserContext(), leadID)
	if err != nil {
		return err
	}
	if lead.TenantID == nil {
		return fmt.Errorf("%w: lead has no tenant pipeline", apperrors.ErrValidation)
	}
	if err := s.stages.Move(c.UserContext(), *lead.TenantID, lead, req.StageKey, req.ActorUserID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "lead": lead})
}

type leadCategoryRequest struct {
	Category string   `json:"category" validate:"required"`
	Score    *float64 `json:"score" validate:"omitempty,gte=0,lte=1"`
}

// SetLeadCategory stores an AI-derived classification and applies the
// tenant's category→stage mapping, reporting whether the lead moved.
func (s *Server) SetLeadCategory(c *fiber.Ctx) error {
	leadID, err := paramInt64(c, "id")
	if err != nil {
		return err
	}
	var req leadCategoryRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, err.Error())
	}
	if err := validator.Validate(&req); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}

	lead, err := s.leadRepo.FindLeadByID(c.UserContext(), leadID)
	if err != nil {
		return err
	}
	if lead.TenantID == nil {
		return fmt.Errorf("%w: lead has no tenant pipeline", apperrors.ErrValidation)
	}
	moved, err := s.stages.Categorize(c.UserContext(), *lead.TenantID, lead, req.Category, req.Score)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "lead": lead, "stage_moved": moved})
}

type leadHandoffRequest struct {
	Mode string `json:"mode" validate:"required"`
}

func (s *Server) SetLeadHandoff(c *fiber.Ctx) error {
	leadID, err := paramInt64(c, "id")
	if err != nil {
		return err
	}
	var req leadHandoffRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, err.Error())
	}

	lead, err := s.leadRepo.FindLeadByID(c.UserContext(), leadID)
	if err != nil {
		return err
	}
	if err := s.leads.SetHandoff(c.UserContext(), lead, req.Mode); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "lead": lead})
}

func (s *Server) ListRules(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}
	rules, err := s.ruleRepo.ListActiveRules(c.UserContext(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "rules": rules})
}

// SaveRule creates or updates an assignment rule. The tenant in the
// path wins over anything in the body.
func (s *Server) SaveRule(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}
	var rule model.AutoAssignRule
	if err := c.BodyParser(&rule); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, err.Error())
	}
	rule.TenantID = tenantID

	switch rule.Strategy {
	case model.StrategyRoundRobin, model.StrategyLeastLoaded:
	case model.StrategyFixedUser:
		if rule.FixedUserID == nil {
			return fmt.Errorf("%w: fixed_user strategy requires fixed_user_id", apperrors.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %q", apperrors.ErrValidation, rule.Strategy)
	}

	if err := s.ruleRepo.SaveRule(c.UserContext(), rule); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "rule": rule})
}

func (s *Server) DeleteRule(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}
	ruleID, err := paramInt64(c, "ruleID")
	if err != nil {
		return err
	}
	if err := s.ruleRepo.DeleteRule(c.UserContext(), tenantID, ruleID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) ListStages(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}
	stages, err := s.stages.List(c.UserContext(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "stages": stages})
}

func (s *Server) SaveStage(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}
	var stage model.TenantStage
	if err := c.BodyParser(&stage); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, err.Error())
	}
	stage.TenantID = tenantID
	if stage.StageKey == "" {
		return fmt.Errorf("%w: stage_key is required", apperrors.ErrValidation)
	}
	if err := s.stages.Save(c.UserContext(), stage); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "stage": stage})
}

type seedStagesRequest struct {
	Variant string `json:"variant"`
}

func (s *Server) SeedStages(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}
	var req seedStagesRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, err.Error())
	}
	if err := s.stages.Seed(c.UserContext(), tenantID, req.Variant); err != nil {
		return err
	}
	stages, err := s.stages.List(c.UserContext(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "stages": stages})
}

func (s *Server) DeleteStage(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}
	if err := s.stages.Delete(c.UserContext(), tenantID, c.Params("stageKey")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

// TenantDiagnostics reports routing health counters for one tenant and
// refreshes the unassigned-leads gauge as a side effect.
func (s *Server) TenantDiagnostics(c *fiber.Ctx) error {
	tenantID, err := paramInt64(c, "tenantID")
	if err != nil {
		return err
	}
	unassigned, err := s.leadRepo.CountUnassignedLeads(c.UserContext(), tenantID)
	if err != nil {
		return err
	}
	observer.SetUnassignedLeads(tenantID, unassigned)
	return c.JSON(fiber.Map{"ok": true, "unassigned_leads": unassigned})
}

// FollowupWorkerStatus derives the scheduler's liveness from its
// heartbeat row; a missing row reads as unknown, not an error.
func (s *Server) FollowupWorkerStatus(c *fiber.Ctx) error {
	const workerName = "followup_worker"

	beat, err := s.followupRepo.GetHeartbeat(c.UserContext(), workerName)
	if err != nil && !apperrors.IsNotFoundError(err) {
		return err
	}

	resp := fiber.Map{
		"ok":     true,
		"worker": workerName,
		"status": beat.LivenessStatus(utils.Now(), s.cfg.Followup.StaleAfter),
	}
	if beat != nil {
		resp["last_beat_at"] = beat.LastBeatAt
	}
	return c.JSON(resp)
}
