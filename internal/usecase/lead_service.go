package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// Dedup keys reported on EnsureLead hits.
const (
	DedupConversation = "conversation"
	DedupExternalID   = "external_id"
	DedupPhone        = "phone"
)

// EnsureLeadResult reports what EnsureLead did.
type EnsureLeadResult struct {
	Lead    *model.Lead
	Created bool
	// DedupKey names the key that matched an existing lead, empty on create.
	DedupKey string
}

// LeadService owns idempotent lead creation and lead field capture.
type LeadService struct {
	leadRepo  storage.LeadRepo
	stageRepo storage.StageRepo
	cfg       config.LeadsConfig
}

// NewLeadService creates a new lead service
func NewLeadService(leadRepo storage.LeadRepo, stageRepo storage.StageRepo, cfg config.LeadsConfig) *LeadService {
	return &LeadService{leadRepo: leadRepo, stageRepo: stageRepo, cfg: cfg}
}

// EnsureLead returns the lead for an inbound message, creating it only
// when no dedup key matches. Dedup order: open lead on the conversation,
// tenant-scoped external id, then normalized phone inside the trailing
// window. Repeated messages never produce duplicate leads.
func (s *LeadService) EnsureLead(ctx context.Context, tenant *model.Tenant, conv *model.Conversation, msg model.InboundMessage) (*EnsureLeadResult, error) {
	log := logger.FromContext(ctx)

	lead, err := s.leadRepo.FindOpenLeadByConversation(ctx, conv.ID)
	if err == nil {
		return &EnsureLeadResult{Lead: lead, DedupKey: DedupConversation}, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	lead, err = s.leadRepo.FindLeadByExternalID(ctx, tenant.ID, msg.ExternalID)
	if err == nil {
		observer.IncLeadDeduped(tenant.ID, DedupExternalID)
		return &EnsureLeadResult{Lead: lead, DedupKey: DedupExternalID}, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	phone, phoneValid := utils.NormalizePhone(msg.SenderPhone)
	if phoneValid {
		since := utils.Now().Add(-s.cfg.DedupWindow)
		lead, err = s.leadRepo.FindRecentLeadByPhone(ctx, tenant.ID, phone, since)
		if err == nil {
			observer.IncLeadDeduped(tenant.ID, DedupPhone)
			return &EnsureLeadResult{Lead: lead, DedupKey: DedupPhone}, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	newLead := &model.Lead{
		TenantID:       &tenant.ID,
		ConversationID: &conv.ID,
		ExternalID:     &msg.ExternalID,
		Source:         string(msg.ChannelKind),
		Name:           contactDisplayName(msg.SenderName, phone),
		Summary:        msg.Text,
		Language:       tenant.Language,
	}
	if phoneValid {
		newLead.Phone = phone
	}
	if tenant.DefaultOwnerID != nil {
		newLead.OwnerID = *tenant.DefaultOwnerID
	}

	if stage, stageErr := s.stageRepo.FirstStage(ctx, tenant.ID); stageErr == nil {
		newLead.StageKey = stage.StageKey
	} else if !errors.Is(stageErr, apperrors.ErrNotFound) {
		return nil, stageErr
	}

	if err := s.leadRepo.CreateLead(ctx, newLead); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			// A concurrent router call created the lead first. The external
			// id index makes the winner findable.
			if existing, refindErr := s.leadRepo.FindLeadByExternalID(ctx, tenant.ID, msg.ExternalID); refindErr == nil {
				observer.IncLeadDeduped(tenant.ID, DedupExternalID)
				return &EnsureLeadResult{Lead: existing, DedupKey: DedupExternalID}, nil
			}
		}
		return nil, err
	}

	observer.IncLeadCreated(tenant.ID, newLead.Source)
	log.Info("Created lead",
		zap.Int64("lead_id", newLead.ID),
		zap.Int64("lead_number", newLead.SeqNumber),
		zap.Int64("tenant_id", tenant.ID),
		zap.String("source", newLead.Source))

	s.recordEvent(ctx, newLead, "created", map[string]interface{}{
		"source":      newLead.Source,
		"lead_number": newLead.SeqNumber,
	})

	return &EnsureLeadResult{Lead: newLead, Created: true}, nil
}

// CapturePhone fills an empty lead phone from free message text when the
// text normalizes to a valid phone. An already-set phone is never
// overwritten and no second lead is created.
func (s *LeadService) CapturePhone(ctx context.Context, lead *model.Lead, text string) (bool, error) {
	if lead.Phone != "" {
		return false, nil
	}
	phone, ok := utils.NormalizePhone(text)
	if !ok {
		return false, nil
	}

	if err := s.leadRepo.SetLeadPhone(ctx, lead.ID, phone); err != nil {
		return false, err
	}
	lead.Phone = phone

	logger.FromContext(ctx).Info("Captured phone from message",
		zap.Int64("lead_id", lead.ID))
	s.recordEvent(ctx, lead, "phone_captured", nil)
	return true, nil
}

// UpdateStatus sets the lead status after checking it is a known value.
func (s *LeadService) UpdateStatus(ctx context.Context, lead *model.Lead, status string) error {
	switch status {
	case model.LeadStatusNew, model.LeadStatusInProgress, model.LeadStatusDone, model.LeadStatusCancelled:
	default:
		return fmt.Errorf("%w: unknown lead status %q", apperrors.ErrValidation, status)
	}

	if err := s.leadRepo.UpdateLeadStatus(ctx, lead.ID, status); err != nil {
		return err
	}
	lead.Status = status
	s.recordEvent(ctx, lead, "status_changed", map[string]interface{}{"status": status})
	return nil
}

// SetHandoff flips the lead between AI and human handling.
func (s *LeadService) SetHandoff(ctx context.Context, lead *model.Lead, mode string) error {
	if mode != model.HandoffAI && mode != model.HandoffHuman {
		return fmt.Errorf("%w: unknown handoff mode %q", apperrors.ErrValidation, mode)
	}

	if err := s.leadRepo.SetLeadHandoff(ctx, lead.ID, mode); err != nil {
		return err
	}
	lead.HandoffMode = mode
	s.recordEvent(ctx, lead, "handoff_changed", map[string]interface{}{"mode": mode})
	return nil
}

// recordEvent appends an audit row. Event write failures are logged,
// never propagated; the mutation itself already committed.
func (s *LeadService) recordEvent(ctx context.Context, lead *model.Lead, eventType string, payload map[string]interface{}) {
	event := model.LeadEvent{
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		EventType: eventType,
	}
	if payload != nil {
		event.Payload = utils.MustMarshalJSON(payload)
	}
	if err := s.leadRepo.SaveLeadEvent(ctx, event); err != nil {
		logger.FromContext(ctx).Warn("Failed to record lead event",
			zap.Int64("lead_id", lead.ID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// contactDisplayName builds a lead name from what the channel knows.
func contactDisplayName(senderName, phone string) string {
	if senderName != "" {
		return senderName
	}
	if len(phone) >= 4 {
		return "Клиент " + phone[len(phone)-4:]
	}
	return "Клиент"
}
