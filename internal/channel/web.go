package channel

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/validator"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// WebChatRequest is the body the site widget posts to the web webhook.
type WebChatRequest struct {
	SiteKey   string `json:"site_key" validate:"required"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Text      string `json:"text" validate:"required"`
}

// ParseWebChat converts a web widget request into the normalized message.
// A missing session id gets a fresh one so the reply can still be
// correlated; the caller returns it to the widget.
func ParseWebChat(body []byte) (model.InboundMessage, error) {
	var req WebChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return model.InboundMessage{}, fmt.Errorf("%w: malformed web chat request: %s", apperrors.ErrBadRequest, err.Error())
	}
	if err := validator.Validate(&req); err != nil {
		return model.InboundMessage{}, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	msg := model.InboundMessage{
		ChannelKind:     model.ChannelWeb,
		ChannelIdentity: req.SiteKey,
		ExternalID:      req.SessionID,
		SenderName:      req.Name,
		SenderPhone:     req.Phone,
		Text:            req.Text,
		Timestamp:       utils.Now(),
		Raw:             utils.MustMarshalJSON(req),
	}
	if err := validateInbound(&msg); err != nil {
		return model.InboundMessage{}, err
	}
	return msg, nil
}
