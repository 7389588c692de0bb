package outbound

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

// WebSender completes delivery for web chat. The widget polls its
// conversation history for new assistant turns, so delivery is the
// stored message itself; nothing leaves the process here.
type WebSender struct{}

// NewWebSender creates a web sender.
func NewWebSender() *WebSender {
	return &WebSender{}
}

// SendText records that a web reply is ready to be picked up.
func (s *WebSender) SendText(ctx context.Context, channelIdentity, externalID, text string) error {
	logger.FromContext(ctx).Debug("Web reply stored for pickup",
		zap.String("site_key", channelIdentity),
		zap.String("session_id", externalID),
		zap.Int("text_len", len(text)))
	return nil
}
