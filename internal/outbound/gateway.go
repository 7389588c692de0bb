package outbound

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/jetstream"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// GatewayReply is the JSON payload published for the gateway to send.
// FromMe is always true so that an echoed reply entering the inbound
// path is dropped by the own-echo guard instead of re-routed.
type GatewayReply struct {
	InstanceID string `json:"instance_id"`
	RemoteJID  string `json:"remote_jid"`
	Text       string `json:"text"`
	FromMe     bool   `json:"from_me"`
}

// GatewaySender publishes replies onto the gateway's outbound subject.
// The gateway process owns the actual WhatsApp session.
type GatewaySender struct {
	client  jetstream.ClientInterface
	subject string
}

// NewGatewaySender creates a sender publishing to the given subject.
func NewGatewaySender(client jetstream.ClientInterface, subject string) *GatewaySender {
	return &GatewaySender{client: client, subject: subject}
}

// Setup ensures a stream covers the reply subject. The reply subject is
// outside the inbound stream's space, so it needs its own stream for
// JetStream publishes to be accepted.
func (s *GatewaySender) Setup(ctx context.Context, streamName string) error {
	streamCfg := &nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{s.subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	}
	if err := s.client.SetupStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to setup gateway reply stream '%s': %w", streamName, err)
	}
	return nil
}

// SendText publishes one reply for the gateway instance to deliver.
func (s *GatewaySender) SendText(ctx context.Context, channelIdentity, externalID, text string) error {
	payload := utils.MustMarshalJSON(GatewayReply{
		InstanceID: channelIdentity,
		RemoteJID:  externalID,
		Text:       text,
		FromMe:     true,
	})
	if err := s.client.Publish(s.subject, payload, nil); err != nil {
		return apperrors.NewRetryable(fmt.Errorf("%w: %v", apperrors.ErrNATS, err), "publish gateway reply")
	}
	return nil
}
