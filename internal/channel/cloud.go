package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// WhatsApp Cloud API webhook payload (Meta Graph shape). Only the fields
// the router consumes are modeled; everything else rides along in Raw.
type CloudWebhook struct {
	Object string       `json:"object"`
	Entry  []CloudEntry `json:"entry"`
}

type CloudEntry struct {
	ID      string        `json:"id"`
	Changes []CloudChange `json:"changes"`
}

type CloudChange struct {
	Field string     `json:"field"`
	Value CloudValue `json:"value"`
}

type CloudValue struct {
	Metadata CloudMetadata  `json:"metadata"`
	Contacts []CloudContact `json:"contacts"`
	Messages []CloudMessage `json:"messages"`
}

type CloudMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type CloudContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type CloudMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

// ParseCloudWebhook flattens a Cloud API webhook body into normalized
// messages. Status-only deliveries produce an empty slice. Non-text
// message types are skipped; the webhook still gets its uniform ack.
func ParseCloudWebhook(body []byte) ([]model.InboundMessage, error) {
	var hook CloudWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: malformed cloud webhook: %s", apperrors.ErrBadRequest, err.Error())
	}

	var out []model.InboundMessage
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			if value.Metadata.PhoneNumberID == "" {
				continue
			}

			names := make(map[string]string, len(value.Contacts))
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, waMsg := range value.Messages {
				if waMsg.Type != "text" || waMsg.From == "" {
					continue
				}

				msg := model.InboundMessage{
					ChannelKind:     model.ChannelWhatsAppAPI,
					ChannelIdentity: value.Metadata.PhoneNumberID,
					ExternalID:      waMsg.From,
					SenderName:      names[waMsg.From],
					SenderPhone:     waMsg.From,
					Text:            waMsg.Text.Body,
					Timestamp:       cloudTimestamp(waMsg.Timestamp),
					Raw:             utils.MustMarshalJSON(waMsg),
				}
				if err := validateInbound(&msg); err != nil {
					return nil, err
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// cloudTimestamp converts Meta's unix-seconds string. A missing or
// malformed value falls back to the receive time.
func cloudTimestamp(raw string) time.Time {
	if raw == "" {
		return utils.Now()
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return utils.Now()
	}
	return time.Unix(secs, 0).UTC()
}
