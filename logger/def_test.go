package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestInit(t *testing.T) {
	t.Run("Test Modes", func(t *testing.T) {
		assert.NoError(t, Init("development", "debug"))
		assert.NotNil(t, Log())
		assert.NoError(t, Init("production", ""))
		assert.NotNil(t, Stage("segment"))
		Sync()
	})

	t.Run("Test Production Default", func(t *testing.T) {
		assert.NoError(t, InitProduction())
		assert.True(t, Log().Core().Enabled(zap.InfoLevel))
		assert.False(t, Log().Core().Enabled(zap.DebugLevel))
		assert.Same(t, Log(), zap.L())
	})

	t.Run("Test Level Override", func(t *testing.T) {
		assert.NoError(t, Init("production", "warn"))
		assert.False(t, Log().Core().Enabled(zap.InfoLevel))
		assert.True(t, Log().Core().Enabled(zap.WarnLevel))
	})

	t.Run("Test Bad Input", func(t *testing.T) {
		assert.Error(t, Init("verbose", ""))
		assert.Error(t, Init("production", "loud"))
	})
}
