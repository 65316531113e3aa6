package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/access-control-plane/services/audit"
	"go.uber.org/zap"
)

type staticStats audit.Stats

func (s staticStats) GetStats() audit.Stats { return audit.Stats(s) }

func readiness(t *testing.T, handler *HealthHandler) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	handler.HandleReadiness(w, req)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response["data"].(map[string]interface{})
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	data := response["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("healthy with no checks", func(t *testing.T) {
		code, data := readiness(t, NewHealthHandler(nil, logger))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", data["status"])
	})

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		code, data := readiness(t, NewHealthHandler(map[string]ReadinessCheck{
			"database": DatabaseCheck(db),
		}, logger))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", data["checks"].(map[string]interface{})["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		code, data := readiness(t, NewHealthHandler(map[string]ReadinessCheck{
			"database": DatabaseCheck(db),
		}, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data["status"])
		assert.Equal(t, "unhealthy", data["checks"].(map[string]interface{})["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		code, _ := readiness(t, NewHealthHandler(map[string]ReadinessCheck{
			"database": DatabaseCheck(db),
		}, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		handler := NewHealthHandler(map[string]ReadinessCheck{"redis": RedisCheck(client)}, logger)

		code, _ := readiness(t, handler)
		assert.Equal(t, http.StatusOK, code)

		mr.Close()

		code, data := readiness(t, handler)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data["checks"].(map[string]interface{})["redis"])
	})

	t.Run("audit dispatcher", func(t *testing.T) {
		code, _ := readiness(t, NewHealthHandler(map[string]ReadinessCheck{
			"audit_dispatcher": DispatcherCheck(staticStats{Started: true}),
		}, logger))
		assert.Equal(t, http.StatusOK, code)

		code, _ = readiness(t, NewHealthHandler(map[string]ReadinessCheck{
			"audit_dispatcher": DispatcherCheck(staticStats{Started: false}),
		}, logger))
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("one failing check fails readiness", func(t *testing.T) {
		code, data := readiness(t, NewHealthHandler(map[string]ReadinessCheck{
			"ok":     func(context.Context) error { return nil },
			"broken": func(context.Context) error { return errors.New("down") },
		}, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["ok"])
		assert.Equal(t, "unhealthy", checks["broken"])
	})
}
