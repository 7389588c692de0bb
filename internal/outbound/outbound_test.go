package outbound

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/channel"
	jsmock "gitlab.com/sayabot/api/crm-lead-router/internal/jetstream/mock"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

func testCtx(t *testing.T) context.Context {
	return logger.WithLogger(context.Background(), zaptest.NewLogger(t))
}

func TestCloudSender_SendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody cloudTextPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewCloudSender(config.CloudConfig{
		BaseURL:     server.URL,
		AccessToken: "secret-token",
		SendTimeout: 5 * time.Second,
	})

	err := sender.SendText(testCtx(t), "109876543210", "77015551234", "Здравствуйте!")
	require.NoError(t, err)

	assert.Equal(t, "/109876543210/messages", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "whatsapp", gotBody.MessagingProduct)
	assert.Equal(t, "77015551234", gotBody.To)
	assert.Equal(t, "text", gotBody.Type)
	assert.Equal(t, "Здравствуйте!", gotBody.Text.Body)
}

func TestCloudSender_SendText_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewCloudSender(config.CloudConfig{BaseURL: server.URL, SendTimeout: 5 * time.Second})

	err := sender.SendText(testCtx(t), "123", "77015551234", "hi")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestCloudSender_SendText_ClientErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid recipient"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewCloudSender(config.CloudConfig{BaseURL: server.URL, SendTimeout: 5 * time.Second})

	err := sender.SendText(testCtx(t), "123", "not-a-number", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.False(t, apperrors.IsRetryable(err))
}

func TestGatewaySender_SendText(t *testing.T) {
	client := new(jsmock.ClientMock)
	sender := NewGatewaySender(client, "v1.gateway_reply.send")

	client.On("Publish", "v1.gateway_reply.send", mock.MatchedBy(func(data []byte) bool {
		var reply GatewayReply
		if err := json.Unmarshal(data, &reply); err != nil {
			return false
		}
		return reply.InstanceID == "inst-7" &&
			reply.RemoteJID == "77015551234@s.whatsapp.net" &&
			reply.Text == "Ок ✅" &&
			reply.FromMe
	}), map[string]string(nil)).Return(nil)

	err := sender.SendText(testCtx(t), "inst-7", "77015551234@s.whatsapp.net", "Ок ✅")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestGatewaySender_PublishedReplyNeverRoutesBackInbound(t *testing.T) {
	client := new(jsmock.ClientMock)
	sender := NewGatewaySender(client, "v1.gateway_reply.send")

	var published []byte
	client.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(1).([]byte) }).
		Return(nil)

	require.NoError(t, sender.SendText(testCtx(t), "inst-7", "77015551234@s.whatsapp.net", "Здравствуйте!"))
	require.NotNil(t, published)

	// Even if the reply lands back in the inbound stream, the echo
	// guard must drop it instead of producing a routable message.
	_, err := channel.ParseGatewayEvent(published)
	assert.ErrorIs(t, err, channel.ErrOwnEcho)
}

func TestGatewaySender_Setup_StreamCoversReplySubject(t *testing.T) {
	client := new(jsmock.ClientMock)
	sender := NewGatewaySender(client, "v1.gateway_reply.send")

	client.On("SetupStream", mock.Anything, mock.MatchedBy(func(cfg *nats.StreamConfig) bool {
		return cfg.Name == "wa_gateway_replies" &&
			len(cfg.Subjects) == 1 &&
			cfg.Subjects[0] == "v1.gateway_reply.send"
	})).Return(nil)

	require.NoError(t, sender.Setup(testCtx(t), "wa_gateway_replies"))
	client.AssertExpectations(t)
}

func TestGatewaySender_SendText_PublishErrorIsRetryable(t *testing.T) {
	client := new(jsmock.ClientMock)
	sender := NewGatewaySender(client, "v1.gateway_reply.send")

	client.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(apperrors.ErrNATS)

	err := sender.SendText(testCtx(t), "inst-7", "jid", "text")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestDispatcher_RoutesByChannelKind(t *testing.T) {
	client := new(jsmock.ClientMock)
	client.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	dispatcher := NewDispatcher(nil, NewGatewaySender(client, "v1.gateway_reply.send"), NewWebSender())

	require.NoError(t, dispatcher.SendText(testCtx(t), model.ChannelWhatsAppGate, "inst", "jid", "hi"))
	require.NoError(t, dispatcher.SendText(testCtx(t), model.ChannelWeb, "site", "session", "hi"))

	// No cloud sender registered, so cloud delivery must fail loudly.
	err := dispatcher.SendText(testCtx(t), model.ChannelWhatsAppAPI, "pnid", "to", "hi")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}
