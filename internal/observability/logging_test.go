package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   zerolog.Level
		wantOK bool
	}{
		{"", zerolog.InfoLevel, true},
		{"info", zerolog.InfoLevel, true},
		{"DEBUG", zerolog.DebugLevel, true},
		{" trace ", zerolog.TraceLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"error", zerolog.ErrorLevel, true},
		{"off", zerolog.Disabled, true},
		{"verbose", zerolog.InfoLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestNewLogger_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "")

	logger.Debug().Msg("hidden")
	logger.Info().Msg("Listening on 127.0.0.1:9095")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "Listening on 127.0.0.1:9095")
}

func TestNewLogger_UnknownLevelWarns(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "loud")

	out := buf.String()
	assert.Contains(t, out, "Unknown log level")
	assert.True(t, strings.Contains(out, "loud"))
}
