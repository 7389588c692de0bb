package usecase

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

// MuteCommand is an inbound AI control token sent by the contact.
type MuteCommand string

const (
	MuteCmdStop  MuteCommand = "stop"
	MuteCmdStart MuteCommand = "start"
)

// ParseMuteCommand recognizes the exact command tokens. Matching is
// case-insensitive on the trimmed text; anything else is a normal message.
func ParseMuteCommand(text string) (MuteCommand, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/stop", "stop":
		return MuteCmdStop, true
	case "/start", "start":
		return MuteCmdStart, true
	default:
		return "", false
	}
}

// Confirmation texts keyed by tenant language. The reply is sent on
// every transition, including no-op repeats.
var muteConfirmations = map[string]struct{ disabled, enabled string }{
	"ru": {
		disabled: "Ок ✅ AI в этом чате выключен. Чтобы включить — /start",
		enabled:  "Ок ✅ AI снова включён в этом чате.",
	},
	"kz": {
		disabled: "Жарайды ✅ Бұл чатта AI өшірілді. Қосу үшін — /start",
		enabled:  "Жарайды ✅ Бұл чатта AI қайта қосылды.",
	},
	"en": {
		disabled: "OK ✅ AI is disabled in this chat. Send /start to enable it.",
		enabled:  "OK ✅ AI is enabled in this chat again.",
	},
}

// MuteService owns the per-chat AI mute state machine.
type MuteService struct {
	convRepo storage.ConversationRepo
}

// NewMuteService creates a new mute service
func NewMuteService(convRepo storage.ConversationRepo) *MuteService {
	return &MuteService{convRepo: convRepo}
}

// Apply persists the command's target state and returns the confirmation
// text in the tenant's language. The state is committed before the
// caller does anything else with the message.
func (s *MuteService) Apply(ctx context.Context, tenant *model.Tenant, remoteJID string, cmd MuteCommand) (string, error) {
	enabled := cmd == MuteCmdStart

	if err := s.convRepo.SetAIEnabled(ctx, tenant.ID, remoteJID, enabled); err != nil {
		return "", err
	}

	logger.FromContext(ctx).Info("Applied AI mute command",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("remote_jid", remoteJID),
		zap.Bool("ai_enabled", enabled))

	texts, ok := muteConfirmations[tenant.Language]
	if !ok {
		texts = muteConfirmations["en"]
	}
	if enabled {
		return texts.enabled, nil
	}
	return texts.disabled, nil
}

// ShouldReply reports whether the AI may answer in this chat, with the
// blocking reason when it may not. The global tenant switch wins over
// the per-chat state; a missing per-chat row reads as enabled.
func (s *MuteService) ShouldReply(ctx context.Context, tenant *model.Tenant, remoteJID string) (bool, string, error) {
	if !tenant.AIEnabled {
		return false, "tenant_ai_disabled", nil
	}

	state, err := s.convRepo.GetAIState(ctx, tenant.ID, remoteJID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return true, "ok", nil
		}
		return false, "state_lookup_failed", err
	}
	if !state.AIEnabled {
		return false, "chat_muted", nil
	}
	return true, "ok", nil
}
