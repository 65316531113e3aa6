package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("default json logger", func(t *testing.T) {
		logger, err := NewLogger("info", "json")
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("development console logger", func(t *testing.T) {
		logger, err := NewLogger("debug", "console")
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(-1))
		defer logger.Sync()
	})

	t.Run("invalid log level", func(t *testing.T) {
		logger, err := NewLogger("invalid", "json")
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("defaults when not set", func(t *testing.T) {
		logger, err := NewLogger("", "")
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDecision("allow", "")
	m.RecordDecision("deny", "permission_not_granted")
	m.RecordDecision("deny", "permission_not_granted")
	m.RecordMutation("role", "created", "ok")
	m.ObserveLockWait(2 * time.Millisecond)
	m.RecordAuditDelivery("delivered")
	m.RecordAuditDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("allow", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("deny", "permission_not_granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("role", "created", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDeliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDropped))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LockWait))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("allow", "")
		m.RecordMutation("user", "updated", "ok")
		m.ObserveLockWait(time.Second)
		m.RecordAuditDelivery("failed")
		m.RecordAuditDropped()
	})
}
