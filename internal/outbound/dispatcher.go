// Package outbound delivers reply texts to contacts over the channel
// they wrote in on. It is the only package that talks to channel APIs
// in the outbound direction.
package outbound

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

// Sender delivers one text on one concrete channel.
type Sender interface {
	SendText(ctx context.Context, channelIdentity, externalID, text string) error
}

// Dispatcher fans a reply out to the sender matching its channel kind.
type Dispatcher struct {
	senders map[model.ChannelKind]Sender
}

// NewDispatcher creates a dispatcher over the per-channel senders.
// A nil sender for a kind means that kind cannot deliver replies.
func NewDispatcher(cloud, gateway, web Sender) *Dispatcher {
	senders := make(map[model.ChannelKind]Sender)
	if cloud != nil {
		senders[model.ChannelWhatsAppAPI] = cloud
	}
	if gateway != nil {
		senders[model.ChannelWhatsAppGate] = gateway
	}
	if web != nil {
		senders[model.ChannelWeb] = web
	}
	return &Dispatcher{senders: senders}
}

// SendText routes the text to the channel's sender.
func (d *Dispatcher) SendText(ctx context.Context, kind model.ChannelKind, channelIdentity, externalID, text string) error {
	sender, ok := d.senders[kind]
	if !ok {
		return fmt.Errorf("%w: no sender for channel %q", apperrors.ErrBadRequest, kind)
	}
	if err := sender.SendText(ctx, channelIdentity, externalID, text); err != nil {
		logger.FromContext(ctx).Error("Outbound send failed",
			zap.String("channel", string(kind)),
			zap.String("external_id", externalID),
			zap.Error(err))
		return err
	}
	return nil
}
