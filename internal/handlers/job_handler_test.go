package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/common"
	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
	"github.com/ternarybob/imprimo/internal/queue"
	"github.com/ternarybob/imprimo/internal/services/safety"
	"github.com/ternarybob/imprimo/internal/storage/badger"
)

func newTestJobHandler(t *testing.T) (*JobHandler, interfaces.QueueService, interfaces.StorageManager) {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	q := queue.NewService(manager, common.NewDefaultConfig(), logger)
	h := NewJobHandler(q, manager.JobStorage(), safety.NewValidator(logger), logger)
	return h, q, manager
}

func postJob(t *testing.T, h *JobHandler, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/pdf-jobs", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.SubmitHandler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSubmitHandlerAcceptsJob(t *testing.T) {
	h, _, _ := newTestJobHandler(t)

	rec := postJob(t, h, map[string]interface{}{"url": "https://example.com/report"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, false, body["deduplicated"])
}

func TestSubmitHandlerDeduplicates(t *testing.T) {
	h, _, _ := newTestJobHandler(t)

	first := decodeBody(t, postJob(t, h, map[string]interface{}{"url": "https://example.com/report"}))
	rec := postJob(t, h, map[string]interface{}{"url": "https://EXAMPLE.com:443/report"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// normalization makes the second URL the same job
	second := decodeBody(t, rec)
	assert.Equal(t, first["job_id"], second["job_id"])
	assert.Equal(t, true, second["deduplicated"])
}

func TestSubmitHandlerRejectsInvalidURL(t *testing.T) {
	h, _, _ := newTestJobHandler(t)

	rec := postJob(t, h, map[string]interface{}{"url": "ftp://example.com/file"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_URL", decodeBody(t, rec)["error_code"])
}

func TestSubmitHandlerBlocksSSRFTarget(t *testing.T) {
	h, _, _ := newTestJobHandler(t)

	rec := postJob(t, h, map[string]interface{}{"url": "http://169.254.169.254/latest/meta-data/"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SSRF_BLOCKED", decodeBody(t, rec)["error_code"])
}

func TestSubmitHandlerValidatesSchema(t *testing.T) {
	h, _, _ := newTestJobHandler(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing url", map[string]interface{}{}},
		{"bad render mode", map[string]interface{}{"url": "https://example.com/", "render_mode": "jpeg"}},
		{"nav timeout too low", map[string]interface{}{"url": "https://example.com/", "navigation_timeout_seconds": 1}},
		{"max retries too high", map[string]interface{}{"url": "https://example.com/", "max_retries": 99}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJob(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitHandlerRejectsBadJSON(t *testing.T) {
	h, _, _ := newTestJobHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/pdf-jobs", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.SubmitHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusHandler(t *testing.T) {
	h, _, _ := newTestJobHandler(t)

	submitted := decodeBody(t, postJob(t, h, map[string]interface{}{
		"url":      "https://example.com/report",
		"metadata": map[string]interface{}{"requested_by": "billing"},
	}))
	jobID := submitted["job_id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/v1/pdf-jobs/"+jobID, nil)
	rec := httptest.NewRecorder()
	h.StatusHandler(rec, req, jobID)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, jobID, body["job_id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "https://example.com/report", body["normalized_url"])
	assert.Equal(t, "example.com", body["domain"])
	assert.NotEmpty(t, body["created_at"])
	assert.Nil(t, body["started_at"])
	assert.Nil(t, body["finished_at"])
	assert.NotNil(t, body["metadata"])
}

func TestStatusHandlerNotFound(t *testing.T) {
	h, _, _ := newTestJobHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/pdf-jobs/no-such-job", nil)
	rec := httptest.NewRecorder()
	h.StatusHandler(rec, req, "no-such-job")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileHandlerStatesAndDownload(t *testing.T) {
	h, q, manager := newTestJobHandler(t)
	ctx := context.Background()

	submitted := decodeBody(t, postJob(t, h, map[string]interface{}{"url": "https://example.com/report"}))
	jobID := submitted["job_id"].(string)

	getFile := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/pdf-jobs/"+jobID+"/file", nil)
		rec := httptest.NewRecorder()
		h.FileHandler(rec, req, jobID)
		return rec
	}

	// queued job has no file yet
	rec := getFile()
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// succeed the job with a real artifact
	artifact := filepath.Join(t.TempDir(), jobID+".pdf")
	require.NoError(t, os.WriteFile(artifact, []byte("%PDF-1.4 content"), 0o644))

	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, q.Finish(ctx, jobID, models.JobStatusSucceeded, artifact, "", ""))

	rec = getFile()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), jobID+".pdf")
	assert.Equal(t, []byte("%PDF-1.4 content"), rec.Body.Bytes())

	// cleaned-up artifact turns into a 404
	require.NoError(t, os.Remove(artifact))
	rec = getFile()
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, manager.JobStorage().ForgetArtifact(ctx, jobID))
	rec = getFile()
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileHandlerUnknownJob(t *testing.T) {
	h, _, _ := newTestJobHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/pdf-jobs/missing/file", nil)
	rec := httptest.NewRecorder()
	h.FileHandler(rec, req, "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
