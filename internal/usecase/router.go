package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

// Routing outcomes reported per inbound message.
const (
	OutcomeDroppedUnbound  = "dropped_unbound"
	OutcomeDroppedInactive = "dropped_inactive_tenant"
	OutcomeMuteCommand     = "mute_command"
	OutcomeAIQueued        = "ai_queued"
	OutcomeAISuppressed    = "ai_suppressed"
	OutcomeFailed          = "failed"
)

// RouteResult reports what happened to one inbound message.
type RouteResult struct {
	Outcome        string
	TenantID       int64
	ConversationID int64
	LeadID         int64
	LeadCreated    bool
}

// MessageRouter is the single pipeline every inbound message goes
// through, regardless of channel. Channel adapters normalize, the
// router decides.
type MessageRouter struct {
	tenantRepo storage.TenantRepo
	convRepo   storage.ConversationRepo
	mutes      *MuteService
	leads      *LeadService
	assigns    *AssignService
	followups  *FollowupService
	aiWorker   IAIReplyWorker
	sender     ReplySender
}

// NewMessageRouter creates a new message router
func NewMessageRouter(
	tenantRepo storage.TenantRepo,
	convRepo storage.ConversationRepo,
	mutes *MuteService,
	leads *LeadService,
	assigns *AssignService,
	followups *FollowupService,
	aiWorker IAIReplyWorker,
	sender ReplySender,
) *MessageRouter {
	return &MessageRouter{
		tenantRepo: tenantRepo,
		convRepo:   convRepo,
		mutes:      mutes,
		leads:      leads,
		assigns:    assigns,
		followups:  followups,
		aiWorker:   aiWorker,
		sender:     sender,
	}
}

// Route processes one normalized inbound message end to end: resolve
// the tenant, persist the turn, ensure the lead, assign, reschedule
// follow-ups and queue the AI reply. Unresolvable traffic is dropped,
// never guessed at; a drop is a nil-error outcome so transports can
// ack and move on.
func (r *MessageRouter) Route(ctx context.Context, msg model.InboundMessage) (*RouteResult, error) {
	channel := string(msg.ChannelKind)
	start := time.Now()

	binding, err := r.tenantRepo.ResolveBinding(ctx, msg.ChannelKind, msg.ChannelIdentity)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnauthorized) || errors.Is(err, apperrors.ErrNotFound) {
			observer.IncInboundDropped(channel, "unresolved_binding")
			logger.FromContext(ctx).Warn("Dropped message for unbound channel identity",
				zap.String("channel", channel),
				zap.String("identity", msg.ChannelIdentity))
			return &RouteResult{Outcome: OutcomeDroppedUnbound}, nil
		}
		return nil, err
	}

	tenant, err := r.tenantRepo.FindTenantByID(ctx, binding.TenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		observer.IncInboundDropped(channel, "inactive_tenant")
		return &RouteResult{Outcome: OutcomeDroppedInactive, TenantID: tenant.ID}, nil
	}

	log := logger.FromContext(ctx).With(
		zap.Int64("tenant_id", tenant.ID),
		zap.String("channel", channel),
		zap.String("external_id", msg.ExternalID),
	)
	ctx = logger.WithLogger(ctx, log)

	observer.IncInboundMessage(channel, tenant.ID)
	defer func() {
		observer.ObserveRoutingDuration(channel, tenant.ID, time.Since(start))
	}()

	result, err := r.route(ctx, tenant, msg)
	if err != nil {
		observer.IncRouteOutcome(channel, tenant.ID, OutcomeFailed)
		return nil, err
	}
	observer.IncRouteOutcome(channel, tenant.ID, result.Outcome)
	return result, nil
}

func (r *MessageRouter) route(ctx context.Context, tenant *model.Tenant, msg model.InboundMessage) (*RouteResult, error) {
	log := logger.FromContext(ctx)
	result := &RouteResult{TenantID: tenant.ID}

	// A control command turn changes the mute state and confirms; it is
	// never stored, never becomes a lead and never reaches the AI.
	if cmd, ok := ParseMuteCommand(msg.Text); ok {
		confirmation, err := r.mutes.Apply(ctx, tenant, msg.ExternalID, cmd)
		if err != nil {
			return nil, err
		}
		if err := r.sender.SendText(ctx, msg.ChannelKind, msg.ChannelIdentity, msg.ExternalID, confirmation); err != nil {
			log.Warn("Failed to send mute confirmation", zap.Error(err))
		}
		result.Outcome = OutcomeMuteCommand
		return result, nil
	}

	conv, err := r.convRepo.GetOrCreateConversation(ctx, model.Conversation{
		TenantID:        tenant.ID,
		ChannelKind:     msg.ChannelKind,
		ChannelIdentity: msg.ChannelIdentity,
		ExternalID:      msg.ExternalID,
		ContactName:     msg.SenderName,
		ContactPhone:    msg.SenderPhone,
	})
	if err != nil {
		return nil, err
	}
	result.ConversationID = conv.ID

	if _, err := r.convRepo.AppendMessage(ctx, model.ConversationMessage{
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        msg.Text,
		Payload:        msg.Raw,
	}); err != nil {
		return nil, err
	}

	if msg.SenderName != "" || msg.SenderPhone != "" {
		if err := r.convRepo.UpdateConversationContact(ctx, conv.ID, msg.SenderName, msg.SenderPhone); err != nil {
			log.Warn("Failed to update conversation contact", zap.Error(err))
		}
	}

	leadRes, err := r.leads.EnsureLead(ctx, tenant, conv, msg)
	if err != nil {
		return nil, err
	}
	lead := leadRes.Lead
	result.LeadID = lead.ID
	result.LeadCreated = leadRes.Created

	if !leadRes.Created {
		if _, err := r.leads.CapturePhone(ctx, lead, msg.Text); err != nil {
			log.Warn("Failed to capture phone from message", zap.Error(err))
		}
	}

	if _, err := r.assigns.AutoAssign(ctx, tenant, lead, msg.Text); err != nil {
		// Assignment failures never lose the message; the lead stays
		// unassigned and visible in diagnostics.
		log.Error("Auto-assignment failed", zap.Int64("lead_id", lead.ID), zap.Error(err))
	}

	// Every contact reply resets the follow-up clock.
	if !leadRes.Created {
		if _, err := r.followups.CancelForLead(ctx, tenant.ID, lead.ID, "contact_reply"); err != nil {
			log.Warn("Failed to cancel followups", zap.Error(err))
		}
	}
	if err := r.followups.ScheduleForLead(ctx, tenant, lead, conv.ID); err != nil {
		log.Warn("Failed to schedule followups", zap.Error(err))
	}

	ok, reason, err := r.mutes.ShouldReply(ctx, tenant, msg.ExternalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if reason == "chat_muted" {
			observer.IncAIMutedTurn(tenant.ID)
		}
		log.Debug("AI reply suppressed", zap.String("reason", reason))
		result.Outcome = OutcomeAISuppressed
		return result, nil
	}

	// The task outlives the inbound request; the transport acks as soon
	// as Route returns.
	task := AIReplyTask{
		Ctx:             logger.WithLogger(context.WithoutCancel(ctx), log),
		Tenant:          tenant,
		ConversationID:  conv.ID,
		ChannelKind:     msg.ChannelKind,
		ChannelIdentity: msg.ChannelIdentity,
		ExternalID:      msg.ExternalID,
	}
	if err := r.aiWorker.SubmitTask(task); err != nil {
		log.Error("Failed to queue AI reply", zap.Error(err))
		result.Outcome = OutcomeAISuppressed
		return result, nil
	}

	result.Outcome = OutcomeAIQueued
	return result, nil
}
