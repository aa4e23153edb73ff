package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"rider@example.com", "r****@*******.com"},
		{"a@b.com", "a@*.com"},
		{"not-an-email", "[invalid-email]"},
		{"", "[invalid-email]"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SanitizedEmail(tt.input), tt.input)
	}
}

func TestSanitizeQueryString(t *testing.T) {
	sensitive := []string{
		"ticket=eyJhbGciOi",
		"code=123456",
		"password=hunter2",
		"session_token=abc",
		"TICKET=abc",
	}
	for _, q := range sensitive {
		assert.True(t, SanitizeQueryString(q), q)
	}

	benign := []string{
		"",
		"page=2&limit=50",
		"sort=created_at",
	}
	for _, q := range benign {
		assert.False(t, SanitizeQueryString(q), q)
	}
}
