package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNew_Level(t *testing.T) {
	l := New("order-api", "debug")
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	l = New("order-api", "warn")
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))

	l = New("order-api", "loud")
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}
