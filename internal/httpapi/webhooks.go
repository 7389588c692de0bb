package httpapi

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/channel"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

// ackResponse is the uniform webhook acknowledgment. Providers retry on
// anything else, so processing failures still ack.
type ackResponse struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
}

// VerifyCloudWebhook answers the Cloud API subscription handshake. The
// challenge is echoed only when the verify token matches the binding's
// secret; everything else is a 403 without detail.
func (s *Server) VerifyCloudWebhook(c *fiber.Ctx) error {
	identity := c.Params("identity")
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	log := logger.FromContext(c.UserContext()).With(zap.String("channel_identity", identity))

	if mode != "subscribe" || token == "" || challenge == "" {
		log.Warn("Rejecting cloud webhook verification with bad parameters", zap.String("mode", mode))
		return c.SendStatus(fiber.StatusForbidden)
	}

	binding, err := s.tenantRepo.ResolveBinding(c.UserContext(), model.ChannelWhatsAppAPI, identity)
	if err != nil {
		log.Warn("Rejecting cloud webhook verification for unresolved binding", zap.Error(err))
		return c.SendStatus(fiber.StatusForbidden)
	}
	if binding.VerifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(binding.VerifyToken), []byte(token)) != 1 {
		log.Warn("Rejecting cloud webhook verification with wrong token")
		return c.SendStatus(fiber.StatusForbidden)
	}

	log.Info("Cloud webhook verified")
	return c.SendString(challenge)
}

// HandleCloudWebhook ingests a Cloud API event batch. The provider
// always gets the uniform ack; malformed or unroutable payloads are
// logged drops, never retried by Meta.
func (s *Server) HandleCloudWebhook(c *fiber.Ctx) error {
	ctx := c.UserContext()
	log := logger.FromContext(ctx)

	messages, err := channel.ParseCloudWebhook(c.Body())
	if err != nil {
		observer.IncInboundDropped(string(model.ChannelWhatsAppAPI), "malformed")
		log.Warn("Dropping malformed cloud webhook", zap.Error(err))
		return c.JSON(ackResponse{OK: true})
	}

	for _, msg := range messages {
		if _, routeErr := s.router.Route(ctx, msg); routeErr != nil {
			log.Error("Failed to route cloud message",
				zap.String("external_id", msg.ExternalID),
				zap.Error(routeErr))
		}
	}
	return c.JSON(ackResponse{OK: true})
}

// HandleWebChat ingests one web widget message. Unlike provider
// webhooks the widget is our own client, so invalid input gets a
// structured error; the session id is echoed for reply polling.
func (s *Server) HandleWebChat(c *fiber.Ctx) error {
	ctx := c.UserContext()

	msg, err := channel.ParseWebChat(c.Body())
	if err != nil {
		return err
	}

	if _, err := s.router.Route(ctx, msg); err != nil {
		return err
	}
	return c.JSON(ackResponse{OK: true, SessionID: msg.ExternalID})
}
