package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/sayabot/api/crm-lead-router/internal/apperrors"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
)

func TestParseWebChat_Valid(t *testing.T) {
	payload := `{
		"site_key": "landing-astana",
		"session_id": "sess-1",
		"name": "Дана",
		"phone": "+7 (700) 123-45-67",
		"text": "Здравствуйте, интересует гардеробная"
	}`

	msg, err := ParseWebChat([]byte(payload))

	require.NoError(t, err)
	assert.Equal(t, model.ChannelWeb, msg.ChannelKind)
	assert.Equal(t, "landing-astana", msg.ChannelIdentity)
	assert.Equal(t, "sess-1", msg.ExternalID)
	assert.Equal(t, "Дана", msg.SenderName)
	assert.Equal(t, "+7 (700) 123-45-67", msg.SenderPhone)
}

func TestParseWebChat_GeneratesSessionID(t *testing.T) {
	msg, err := ParseWebChat([]byte(`{"site_key": "landing-astana", "text": "hi"}`))

	require.NoError(t, err)
	assert.NotEmpty(t, msg.ExternalID)
}

func TestParseWebChat_RequiresSiteKeyAndText(t *testing.T) {
	_, err := ParseWebChat([]byte(`{"text": "hi"}`))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = ParseWebChat([]byte(`{"site_key": "landing-astana"}`))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
