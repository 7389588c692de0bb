package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
)

// cloudTextPayload is the Cloud API send-message request body.
type cloudTextPayload struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             cloudTextBody `json:"text"`
}

type cloudTextBody struct {
	Body string `json:"body"`
}

// CloudSender posts texts to the WhatsApp Cloud API. The channel
// identity is the phone_number_id the reply goes out from.
type CloudSender struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewCloudSender creates a sender from the cloud config.
func NewCloudSender(cfg config.CloudConfig) *CloudSender {
	return &CloudSender{
		baseURL: cfg.BaseURL,
		token:   cfg.AccessToken,
		client:  &http.Client{Timeout: cfg.SendTimeout},
	}
}

// SendText posts one text message to {baseURL}/{phone_number_id}/messages.
func (s *CloudSender) SendText(ctx context.Context, channelIdentity, externalID, text string) error {
	payload, err := json.Marshal(cloudTextPayload{
		MessagingProduct: "whatsapp",
		To:               externalID,
		Type:             "text",
		Text:             cloudTextBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("marshal cloud payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, channelIdentity)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build cloud request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NewRetryable(err, "cloud api request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return apperrors.NewRetryable(
			fmt.Errorf("status %d: %s", resp.StatusCode, body), "cloud api rejected message")
	}
	return fmt.Errorf("%w: cloud api status %d: %s", apperrors.ErrBadRequest, resp.StatusCode, body)
}
