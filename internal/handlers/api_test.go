package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/models"
	"github.com/ternarybob/imprimo/internal/storage/badger"
)

func TestHealthHandlerReportsWorker(t *testing.T) {
	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	h := NewAPIHandler(manager, "worker-1", logger)

	getHealth := func() map[string]interface{} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.HealthHandler(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body
	}

	// no heartbeat yet
	body := getHealth()
	assert.Equal(t, "healthy", body["status"])
	worker := body["worker"].(map[string]interface{})
	assert.Equal(t, "missing", worker["status"])

	// fresh heartbeat
	require.NoError(t, manager.HeartbeatStorage().Upsert(context.Background(), &models.WorkerHeartbeat{
		WorkerID: "worker-1",
		LastBeat: time.Now().UTC(),
		State:    models.WorkerStateIdle,
	}))
	worker = getHealth()["worker"].(map[string]interface{})
	assert.Equal(t, "healthy", worker["status"])

	// stale heartbeat
	require.NoError(t, manager.HeartbeatStorage().Upsert(context.Background(), &models.WorkerHeartbeat{
		WorkerID: "worker-1",
		LastBeat: time.Now().UTC().Add(-2 * time.Minute),
		State:    models.WorkerStateWorking,
	}))
	worker = getHealth()["worker"].(map[string]interface{})
	assert.Equal(t, "stale", worker["status"])
}

func TestVersionHandler(t *testing.T) {
	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	h := NewAPIHandler(manager, "worker-1", logger)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	h.VersionHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["version"])
}
