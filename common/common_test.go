package common

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name      string
		opts      LoggingOpts
		wantDebug bool
	}{
		{name: "text info", opts: LoggingOpts{Service: "landsure"}},
		{name: "json debug", opts: LoggingOpts{Debug: true, JSON: true, Version: "v1"}, wantDebug: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := SetupLogger(&tt.opts)
			assert.NotNil(t, log)
			assert.Equal(t, tt.wantDebug, log.Enabled(context.Background(), slog.LevelDebug))
			assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
		})
	}
}

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "", "landsure-registry")
	assert.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
