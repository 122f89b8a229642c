package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitOTelDisabled(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)
	require.NoError(t, err)
	assert.Nil(t, providers, "disabled telemetry installs nothing")
}

func TestInitOTelCreatesProviders(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})
	// The exporters dial lazily, so an unreachable collector is fine here.
	providers, err := InitOTel(context.Background(), OTelConfig{
		Enabled:        true,
		Endpoint:       "127.0.0.1:4317",
		ServiceVersion: "test",
		Insecure:       true,
	}, logger)
	require.NoError(t, err)
	require.NotNil(t, providers)
	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	// Flushing against the unreachable collector fails; shutdown must
	// still return rather than hang.
	_ = ShutdownOTel(ctx, providers, logger)
}

func TestShutdownOTelNilProviders(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})
	assert.NoError(t, ShutdownOTel(context.Background(), nil, logger))
}
