package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected zerolog.Level
	}{
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel},
		{"WARNING", zerolog.WarnLevel},
		{"WARN", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"CRITICAL", zerolog.FatalLevel},
		{"FATAL", zerolog.FatalLevel},
		{"", zerolog.ErrorLevel},
		{"bogus", zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.name))
		})
	}
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "ERROR")

	l.Info().Msg("hidden")
	l.Error().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_CarriedOnContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "INFO")
	ctx := l.WithContext(context.Background())

	zerolog.Ctx(ctx).Info().Str("edition", "community").Msg("packing")

	assert.Contains(t, buf.String(), "packing")
	assert.Contains(t, buf.String(), "edition=community")
}
