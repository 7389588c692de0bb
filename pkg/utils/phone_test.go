package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
		ok       bool
	}{
		{
			name:     "leading 8 national form",
			raw:      "87001234567",
			expected: "77001234567",
			ok:       true,
		},
		{
			name:     "plus seven international form",
			raw:      "+77001234567",
			expected: "77001234567",
			ok:       true,
		},
		{
			name:     "bare 7 prefixed form",
			raw:      "77001234567",
			expected: "77001234567",
			ok:       true,
		},
		{
			name:     "ten digit local form",
			raw:      "7001234567",
			expected: "77001234567",
			ok:       true,
		},
		{
			name:     "formatted with separators",
			raw:      "+7 (700) 123-45-67",
			expected: "77001234567",
			ok:       true,
		},
		{
			name:     "generic e164 number",
			raw:      "+4915112345678",
			expected: "4915112345678",
			ok:       true,
		},
		{
			name: "too short",
			raw:  "123",
			ok:   false,
		},
		{
			name: "empty",
			raw:  "",
			ok:   false,
		},
		{
			name: "no digits at all",
			raw:  "hello there",
			ok:   false,
		},
		{
			name: "too long",
			raw:  "1234567890123456",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePhone(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}
