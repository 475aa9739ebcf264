package observability

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()

	prev := log.Writer()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	fn()
	return buf.String()
}

func TestStandardLogger_Format(t *testing.T) {
	logger := NewLogger("cache.test")

	out := captureLog(t, func() {
		logger.Info("entry stored", map[string]interface{}{
			"namespace": "query",
			"bytes":     128,
		})
	})

	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "[cache.test]")
	assert.Contains(t, out, "entry stored")
	// Fields are emitted in sorted key order
	assert.Contains(t, out, "bytes=128 namespace=query")
}

func TestStandardLogger_LevelFiltering(t *testing.T) {
	logger := NewLoggerWithLevel("cache.test", LogLevelWarn)

	out := captureLog(t, func() {
		logger.Debug("dropped", nil)
		logger.Info("dropped too", nil)
		logger.Warn("kept", nil)
	})

	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestStandardLogger_With(t *testing.T) {
	logger := NewLogger("cache.test").With(map[string]interface{}{"tier": "local"})

	out := captureLog(t, func() {
		logger.Info("hit", map[string]interface{}{"key": "abc"})
	})

	assert.Contains(t, out, "key=abc")
	assert.Contains(t, out, "tier=local")
}

func TestStandardLogger_WithPrefix(t *testing.T) {
	base := NewLoggerWithLevel("base", LogLevelWarn)
	scoped := base.WithPrefix("cache.remote")

	out := captureLog(t, func() {
		scoped.Warn("reconnecting", nil)
		scoped.Info("filtered by inherited level", nil)
	})

	assert.Contains(t, out, "[cache.remote]")
	assert.NotContains(t, out, "filtered")
}

func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()

	out := captureLog(t, func() {
		logger.Error("nothing", map[string]interface{}{"k": "v"})
		logger.WithPrefix("p").With(map[string]interface{}{"a": 1}).Info("still nothing", nil)
	})

	assert.Empty(t, out)
}
