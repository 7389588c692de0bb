package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// leastLoadedWindow is the trailing window the least-loaded strategy
// counts open leads over.
const leastLoadedWindow = 7 * 24 * time.Hour

// AssignResult reports the outcome of one auto-assignment attempt.
type AssignResult struct {
	Assigned bool   `json:"assigned"`
	UserID   int64  `json:"user_id,omitempty"`
	RuleID   int64  `json:"rule_id,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// BulkAssignOutcome is the per-item result of a bulk assignment call.
type BulkAssignOutcome struct {
	LeadID int64  `json:"lead_id"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// AssignService owns rule-based auto-assignment and operator bulk
// assignment.
type AssignService struct {
	ruleRepo   storage.RuleRepo
	leadRepo   storage.LeadRepo
	tenantRepo storage.TenantRepo
}

// NewAssignService creates a new assignment service
func NewAssignService(ruleRepo storage.RuleRepo, leadRepo storage.LeadRepo, tenantRepo storage.TenantRepo) *AssignService {
	return &AssignService{ruleRepo: ruleRepo, leadRepo: leadRepo, tenantRepo: tenantRepo}
}

// AutoAssign walks the tenant's active rules in priority order and
// assigns the lead per the first rule whose predicates all match.
// Already-assigned leads are never reassigned.
func (s *AssignService) AutoAssign(ctx context.Context, tenant *model.Tenant, lead *model.Lead, firstMessageText string) (*AssignResult, error) {
	log := logger.FromContext(ctx)

	if lead.AssignedUserID != nil {
		return &AssignResult{Assigned: false}, nil
	}

	rules, err := s.ruleRepo.ListActiveRules(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	managers, err := s.tenantRepo.ListActiveStaff(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	if len(managers) == 0 {
		return &AssignResult{Assigned: false}, nil
	}

	now := utils.Now()
	for i := range rules {
		rule := &rules[i]
		if !ruleMatchesTime(rule, now, tenant.Timezone) {
			continue
		}
		if !ruleMatchesLead(rule, lead, firstMessageText) {
			continue
		}

		userID, err := s.pickByStrategy(ctx, rule, managers)
		if err != nil {
			return nil, err
		}
		if userID == 0 {
			// Strategy produced nobody (inactive fixed user); next rule.
			continue
		}

		if err := s.leadRepo.AssignLead(ctx, lead.ID, userID); err != nil {
			return nil, err
		}
		lead.AssignedUserID = &userID
		assignedAt := utils.Now()
		lead.AssignedAt = &assignedAt
		if lead.FirstAssignedAt == nil {
			lead.FirstAssignedAt = &assignedAt
		}

		observer.IncLeadAssigned(tenant.ID, rule.Strategy)
		log.Info("Auto-assigned lead",
			zap.Int64("lead_id", lead.ID),
			zap.Int64("user_id", userID),
			zap.Int64("rule_id", rule.ID),
			zap.String("strategy", rule.Strategy))

		event := model.LeadEvent{
			TenantID:  lead.TenantID,
			LeadID:    lead.ID,
			EventType: "assigned",
			Payload: utils.MustMarshalJSON(map[string]interface{}{
				"auto_assign_rule_id": rule.ID,
				"assigned_to_user_id": userID,
				"strategy":            rule.Strategy,
			}),
		}
		if eventErr := s.leadRepo.SaveLeadEvent(ctx, event); eventErr != nil {
			log.Warn("Failed to record assignment event", zap.Int64("lead_id", lead.ID), zap.Error(eventErr))
		}

		return &AssignResult{Assigned: true, UserID: userID, RuleID: rule.ID, Strategy: rule.Strategy}, nil
	}

	return &AssignResult{Assigned: false}, nil
}

// pickByStrategy resolves the assignee for a matched rule. A zero return
// with nil error means the rule cannot produce anyone and the caller
// falls through to the next rule.
func (s *AssignService) pickByStrategy(ctx context.Context, rule *model.AutoAssignRule, managers []model.Staff) (int64, error) {
	switch rule.Strategy {
	case model.StrategyFixedUser:
		if rule.FixedUserID == nil {
			return 0, nil
		}
		for _, m := range managers {
			if m.ID == *rule.FixedUserID {
				return m.ID, nil
			}
		}
		return 0, nil

	case model.StrategyLeastLoaded:
		counts, err := s.leadRepo.CountActiveLeadsByUser(ctx, rule.TenantID, utils.Now().Add(-leastLoadedWindow))
		if err != nil {
			return 0, err
		}
		// Managers come ordered by id, so the first minimum wins ties.
		best := managers[0].ID
		bestCount := counts[managers[0].ID]
		for _, m := range managers[1:] {
			if c := counts[m.ID]; c < bestCount {
				best = m.ID
				bestCount = c
			}
		}
		return best, nil

	case model.StrategyRoundRobin:
		cursor, err := s.ruleRepo.AdvanceRRCursor(ctx, rule.ID)
		if err != nil {
			return 0, err
		}
		// The increment reserves the pre-advance cursor value for this
		// assignment, so concurrent calls rotate without repeats.
		idx := int((cursor - 1) % int64(len(managers)))
		if idx < 0 {
			idx += len(managers)
		}
		return managers[idx].ID, nil

	default:
		return 0, nil
	}
}

// BulkAssign assigns many leads to one user, or unassigns them when
// userID is nil, and reports a per-item outcome instead of failing the
// whole batch.
func (s *AssignService) BulkAssign(ctx context.Context, tenantID int64, leadIDs []int64, userID *int64) ([]BulkAssignOutcome, error) {
	if userID != nil {
		staff, err := s.tenantRepo.FindStaffByID(ctx, *userID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, errors.Join(apperrors.ErrValidation, err)
			}
			return nil, err
		}
		if staff.TenantID != tenantID || !staff.IsActive {
			return nil, errors.Join(apperrors.ErrValidation, errors.New("user is not an active member of the tenant"))
		}
	}

	outcomes := make([]BulkAssignOutcome, 0, len(leadIDs))
	for _, leadID := range leadIDs {
		outcome := BulkAssignOutcome{LeadID: leadID}

		lead, err := s.leadRepo.FindLeadByID(ctx, leadID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			outcome.Reason = "lead_not_found"
		case err != nil:
			outcome.Reason = "lookup_failed"
		case lead.TenantID == nil || *lead.TenantID != tenantID:
			outcome.Reason = "wrong_tenant"
		case userID == nil:
			if unassignErr := s.leadRepo.UnassignLead(ctx, leadID); unassignErr != nil {
				outcome.Reason = "unassign_failed"
			} else {
				outcome.OK = true
			}
		default:
			if assignErr := s.leadRepo.AssignLead(ctx, leadID, *userID); assignErr != nil {
				outcome.Reason = "assign_failed"
			} else {
				outcome.OK = true
				observer.IncLeadAssigned(tenantID, "bulk")
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// ruleMatchesTime checks the rule's hour window and weekday list in the
// tenant's timezone. Nil bounds are unbounded; both bounds inclusive.
func ruleMatchesTime(rule *model.AutoAssignRule, now time.Time, timezone string) bool {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	hour := local.Hour()
	if rule.TimeFrom != nil && hour < *rule.TimeFrom {
		return false
	}
	if rule.TimeTo != nil && hour > *rule.TimeTo {
		return false
	}

	if days := rule.DaysOfWeekList(); len(days) > 0 {
		// ISO weekday, Monday=1.
		iso := int(local.Weekday())
		if iso == 0 {
			iso = 7
		}
		found := false
		for _, d := range days {
			if d == iso {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ruleMatchesLead checks the rule's lead predicates. Exact matches are
// case-insensitive; match_contains is a substring search over the lead
// summary and the first message text.
func ruleMatchesLead(rule *model.AutoAssignRule, lead *model.Lead, firstMessageText string) bool {
	if rule.MatchCity != "" && !equalsFold(lead.City, rule.MatchCity) {
		return false
	}
	if rule.MatchLanguage != "" && !equalsFold(lead.Language, rule.MatchLanguage) {
		return false
	}
	if rule.MatchObjectType != "" && !containsFold(lead.ObjectType, rule.MatchObjectType) {
		return false
	}
	if rule.MatchContains != "" {
		sub := strings.ToLower(strings.TrimSpace(rule.MatchContains))
		summary := strings.ToLower(lead.Summary)
		first := strings.ToLower(firstMessageText)
		if !strings.Contains(summary, sub) && !strings.Contains(first, sub) {
			return false
		}
	}
	return true
}

func equalsFold(value, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(expected))
}

func containsFold(value, sub string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(strings.TrimSpace(sub)))
}
