package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	jsmock "gitlab.com/sayabot/api/crm-lead-router/internal/jetstream/mock"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

func swapTestLogger(t *testing.T) {
	original := logger.Log
	logger.Log = zaptest.NewLogger(t)
	t.Cleanup(func() { logger.Log = original })
}

func gatewayTestConfig() config.ConsumerNatsConfig {
	return config.ConsumerNatsConfig{
		MaxAge:       7,
		Stream:       "wa_gateway_events",
		Consumer:     "lead_router",
		QueueGroup:   "lead_router_group",
		SubjectList:  []string{"v1.gateway.>"},
		MaxDeliver:   5,
		NakBaseDelay: 2 * time.Second,
		NakMaxDelay:  30 * time.Second,
	}
}

func TestGatewayConsumer_Setup(t *testing.T) {
	swapTestLogger(t)
	client := new(jsmock.ClientMock)
	consumer := NewGatewayConsumer(client, nil, gatewayTestConfig())

	client.On("SetupStream", mock.Anything, mock.MatchedBy(func(cfg *nats.StreamConfig) bool {
		return cfg.Name == "wa_gateway_events" &&
			len(cfg.Subjects) == 1 && cfg.Subjects[0] == "v1.gateway.>" &&
			cfg.MaxAge == 7*24*time.Hour
	})).Return(nil)
	client.On("SetupConsumer", mock.Anything, "wa_gateway_events", mock.MatchedBy(func(cfg *nats.ConsumerConfig) bool {
		return cfg.Durable == "lead_router" &&
			cfg.MaxDeliver == 5 &&
			cfg.AckPolicy == nats.AckExplicitPolicy
	})).Return(nil)

	require.NoError(t, consumer.Setup())
	client.AssertExpectations(t)
}

func TestGatewayConsumer_Setup_StreamError(t *testing.T) {
	swapTestLogger(t)
	client := new(jsmock.ClientMock)
	consumer := NewGatewayConsumer(client, nil, gatewayTestConfig())

	client.On("SetupStream", mock.Anything, mock.Anything).Return(errors.New("nats down"))

	err := consumer.Setup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway stream")
}

func TestGatewayConsumer_Start(t *testing.T) {
	swapTestLogger(t)
	client := new(jsmock.ClientMock)
	consumer := NewGatewayConsumer(client, nil, gatewayTestConfig())

	client.On("SubscribePush", "v1.gateway.>", "lead_router", "lead_router_group", "wa_gateway_events", mock.Anything).
		Return(&nats.Subscription{}, nil)

	require.NoError(t, consumer.Start())
	client.AssertExpectations(t)
}

func TestGatewayConsumer_Start_UsesConfiguredSubject(t *testing.T) {
	swapTestLogger(t)
	client := new(jsmock.ClientMock)
	cfg := gatewayTestConfig()
	cfg.SubjectList = []string{"v2.custom_gateway.>"}
	consumer := NewGatewayConsumer(client, nil, cfg)

	client.On("SubscribePush", "v2.custom_gateway.>", "lead_router", "lead_router_group", "wa_gateway_events", mock.Anything).
		Return(&nats.Subscription{}, nil)

	require.NoError(t, consumer.Start())
	client.AssertExpectations(t)
}

func TestGatewayConsumer_Start_RejectsEmptySubjectList(t *testing.T) {
	swapTestLogger(t)
	client := new(jsmock.ClientMock)
	cfg := gatewayTestConfig()
	cfg.SubjectList = nil
	consumer := NewGatewayConsumer(client, nil, cfg)

	err := consumer.Start()
	require.Error(t, err)
	client.AssertNotCalled(t, "SubscribePush",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDetermineAckNakAction(t *testing.T) {
	base := 2 * time.Second
	max := 30 * time.Second

	testCases := []struct {
		name         string
		err          error
		numDelivered uint64
		wantAction   AckNakAction
		wantDelay    time.Duration
	}{
		{"success acks", nil, 1, ActionAck, 0},
		{"validation error acks as poison", apperrors.ErrValidation, 1, ActionAck, 0},
		{"unauthorized acks as poison", apperrors.ErrUnauthorized, 1, ActionAck, 0},
		{"database error first attempt", apperrors.ErrDatabase, 1, ActionNakDelay, 2 * time.Second},
		{"database error backs off exponentially", apperrors.ErrDatabase, 3, ActionNakDelay, 8 * time.Second},
		{"delay is capped", apperrors.ErrDatabase, 4, ActionNakDelay, 16 * time.Second},
		{"retryable wrapper", apperrors.NewRetryable(errors.New("dial tcp"), "send failed"), 2, ActionNakDelay, 4 * time.Second},
		{"retries exhausted drops", apperrors.ErrDatabase, 5, ActionDrop, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			action, delay := determineAckNakAction(tc.err, tc.numDelivered, 5, base, max)
			assert.Equal(t, tc.wantAction, action)
			assert.Equal(t, tc.wantDelay, delay)
		})
	}
}
