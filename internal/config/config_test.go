package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// subjectMatchesFilter applies NATS token matching ("*" one token,
// ">" the rest) so the tests can prove subject-space disjointness.
func subjectMatchesFilter(subject, filter string) bool {
	subjectTokens := strings.Split(subject, ".")
	filterTokens := strings.Split(filter, ".")

	for i, ft := range filterTokens {
		if ft == ">" {
			return i < len(subjectTokens)
		}
		if i >= len(subjectTokens) {
			return false
		}
		if ft != "*" && ft != subjectTokens[i] {
			return false
		}
	}
	return len(subjectTokens) == len(filterTokens)
}

func TestSubjectMatchesFilter(t *testing.T) {
	assert.True(t, subjectMatchesFilter("v1.gateway.inst-7", "v1.gateway.>"))
	assert.True(t, subjectMatchesFilter("v1.gateway.a.b", "v1.gateway.>"))
	assert.False(t, subjectMatchesFilter("v1.gateway", "v1.gateway.>"))
	assert.False(t, subjectMatchesFilter("v1.gateway_reply.send", "v1.gateway.>"))
}

func TestLoadConfig_ReplySubjectOutsideConsumedSpace(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.NotEmpty(t, cfg.NATS.ReplySubject)
	require.NotEmpty(t, cfg.NATS.Gateway.SubjectList)

	// A reply published inside the consumed space would be re-read as
	// an inbound contact message and feed the AI back its own replies.
	for _, filter := range cfg.NATS.Gateway.SubjectList {
		assert.False(t, subjectMatchesFilter(cfg.NATS.ReplySubject, filter),
			"reply subject %q must not match consumed filter %q", cfg.NATS.ReplySubject, filter)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "wa_gateway_events", cfg.NATS.Gateway.Stream)
	assert.Equal(t, []string{"v1.gateway.>"}, cfg.NATS.Gateway.SubjectList)
	assert.Equal(t, 20, cfg.AI.ContextLimit)
	assert.Equal(t, []int{5, 30}, cfg.Followup.DelayMinutes)
}
