package obs

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	l := NewLogger("debug", "json")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l = NewLogger("nonsense", "text")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
}

func TestInitTracer_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "reconciler"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
