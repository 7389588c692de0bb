package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/validator"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// GatewayEvent is one inbound message event published by the third-party
// WhatsApp gateway onto JetStream.
type GatewayEvent struct {
	InstanceID string `json:"instance_id" validate:"required"`
	RemoteJID  string `json:"remote_jid" validate:"required"`
	MessageID  string `json:"message_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	// FromMe marks echoes of our own outbound sends; they are dropped.
	FromMe    bool  `json:"from_me"`
	Timestamp int64 `json:"timestamp"`
}

// ErrOwnEcho signals an event that describes our own outbound message.
var ErrOwnEcho = errors.New("own message echo")

// ParseGatewayEvent converts a gateway JetStream payload into the
// normalized message.
func ParseGatewayEvent(data []byte) (model.InboundMessage, error) {
	var ev GatewayEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.InboundMessage{}, fmt.Errorf("%w: malformed gateway event: %s", apperrors.ErrBadRequest, err.Error())
	}
	if err := validator.Validate(&ev); err != nil {
		return model.InboundMessage{}, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}
	if ev.FromMe {
		return model.InboundMessage{}, ErrOwnEcho
	}

	msg := model.InboundMessage{
		ChannelKind:     model.ChannelWhatsAppGate,
		ChannelIdentity: ev.InstanceID,
		ExternalID:      ev.RemoteJID,
		SenderName:      ev.SenderName,
		SenderPhone:     phoneFromJID(ev.RemoteJID),
		Text:            ev.Text,
		Timestamp:       utils.Now(),
		Raw:             utils.MustMarshalJSON(ev),
	}
	if ev.Timestamp > 0 {
		msg.Timestamp = utils.UnixToTime(ev.Timestamp)
	}
	if err := validateInbound(&msg); err != nil {
		return model.InboundMessage{}, err
	}
	return msg, nil
}

// phoneFromJID extracts the phone part of a WhatsApp JID such as
// "77001234567@s.whatsapp.net". Group JIDs carry no usable phone.
func phoneFromJID(jid string) string {
	local, _, found := strings.Cut(jid, "@")
	if !found {
		local = jid
	}
	if strings.Contains(local, "-") {
		return ""
	}
	return local
}
