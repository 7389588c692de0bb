// Package ingestion consumes gateway events from JetStream and feeds
// them into the routing pipeline.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/channel"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/jetstream"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/internal/usecase"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// InboundRouter is the piece of the routing pipeline the consumer needs.
type InboundRouter interface {
	Route(ctx context.Context, msg model.InboundMessage) (*usecase.RouteResult, error)
}

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // processed or poison, ACK it
	ActionNakDelay                     // retryable error, NAK with calculated delay
	ActionDrop                         // retries exhausted, ACK and log the loss
)

// GatewayConsumer subscribes to the gateway event stream. Delivery is
// at-least-once: retryable failures are NAKed with backoff up to the
// consumer's MaxDeliver, then dropped with a terminal log line.
type GatewayConsumer struct {
	client jetstream.ClientInterface
	router InboundRouter
	cfg    config.ConsumerNatsConfig
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGatewayConsumer creates a consumer for the gateway event stream.
func NewGatewayConsumer(client jetstream.ClientInterface, router InboundRouter, cfg config.ConsumerNatsConfig) *GatewayConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("consumer", cfg.Consumer)))

	return &GatewayConsumer{
		client: client,
		router: router,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Setup ensures the stream and the durable consumer exist.
func (c *GatewayConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up GatewayConsumer...", zap.String("stream", c.cfg.Stream))

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.SubjectList,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to setup gateway stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: c.cfg.SubjectList,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		return fmt.Errorf("failed to setup gateway consumer '%s': %w", c.cfg.Consumer, err)
	}

	log.Info("GatewayConsumer setup complete")
	return nil
}

// Start subscribes to the stream.
func (c *GatewayConsumer) Start() error {
	log := logger.FromContext(c.ctx)

	if len(c.cfg.SubjectList) == 0 {
		return fmt.Errorf("gateway consumer '%s' has no subjects configured", c.cfg.Consumer)
	}
	sub, err := c.client.SubscribePush(c.cfg.SubjectList[0], c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe gateway consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("GatewayConsumer subscribed successfully")
	return nil
}

// Stop drains the subscription and cancels the consumer context.
func (c *GatewayConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping GatewayConsumer...")
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining gateway subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("GatewayConsumer stopped")
}

// determineAckNakAction decides the fate of a message based on the
// processing result and delivery count.
func determineAckNakAction(
	processingErr error,
	numDelivered uint64,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	// Poison input never becomes deliverable by retrying.
	if !isRedeliverable(processingErr) {
		return ActionAck, 0
	}

	if numDelivered >= uint64(maxDeliver) {
		return ActionDrop, 0
	}

	delay = nakBaseDelay
	if numDelivered > 1 {
		delay = nakBaseDelay * (1 << (numDelivered - 1))
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// isRedeliverable reports whether a redelivery can plausibly succeed.
// Infrastructure failures qualify; validation and tenant resolution
// failures do not.
func isRedeliverable(err error) bool {
	return apperrors.IsRetryable(err) ||
		apperrors.IsDatabaseError(err) ||
		apperrors.IsNATSError(err) ||
		apperrors.IsTimeoutError(err)
}

// handleMessage parses one gateway event and routes it.
func (c *GatewayConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	log := logger.FromContext(c.ctx).With(zap.String("subject", msg.Subject))

	defer func() {
		if r := recover(); r != nil {
			log.Error("[panic] Recovered from panic in gateway handler",
				zap.Any("panic", r),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	inbound, err := channel.ParseGatewayEvent(msg.Data)
	if err != nil {
		switch {
		case errors.Is(err, channel.ErrOwnEcho):
			// Our own outbound messages echo back from the gateway.
			log.Debug("Skipping own message echo")
		case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrBadRequest):
			observer.IncInboundDropped(string(model.ChannelWhatsAppGate), "malformed")
			log.Warn("Dropping malformed gateway event", zap.Error(err))
		default:
			observer.IncInboundDropped(string(model.ChannelWhatsAppGate), "parse_error")
			log.Error("Failed to parse gateway event", zap.Error(err))
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK unparseable message", zap.Error(ackErr))
		}
		return
	}

	msgCtx := logger.WithLogger(c.ctx, log.With(
		zap.String("external_id", inbound.ExternalID),
		zap.String("channel_identity", inbound.ChannelIdentity),
	))

	_, processingErr := c.router.Route(msgCtx, inbound)

	var numDelivered uint64 = 1
	if metadata, metaErr := msg.Metadata(); metaErr == nil {
		numDelivered = metadata.NumDelivered
	}

	action, nakDelay := determineAckNakAction(processingErr, numDelivered, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)
	enhancedLog := logger.FromContext(msgCtx)

	switch action {
	case ActionAck:
		if processingErr != nil {
			enhancedLog.Warn("Dropping message after non-retryable error",
				zap.Error(processingErr),
				zap.Duration("duration", time.Since(startTime)))
		} else {
			enhancedLog.Debug("Successfully processed gateway event",
				zap.Duration("duration", time.Since(startTime)))
		}
		if ackErr := msg.Ack(); ackErr != nil {
			enhancedLog.Error("Failed to ACK message", zap.Error(ackErr))
		}

	case ActionNakDelay:
		enhancedLog.Info("NAKing message with delay for redelivery",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", numDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
		)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			enhancedLog.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionDrop:
		observer.IncInboundDropped(string(model.ChannelWhatsAppGate), "retries_exhausted")
		enhancedLog.Error("Dropping message after exhausting deliveries",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", numDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
		)
		if ackErr := msg.Ack(); ackErr != nil {
			enhancedLog.Error("Failed to ACK dropped message", zap.Error(ackErr))
		}
	}
}
