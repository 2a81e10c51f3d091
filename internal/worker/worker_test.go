package worker

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/common"
	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
	"github.com/ternarybob/imprimo/internal/queue"
	"github.com/ternarybob/imprimo/internal/services/render"
	"github.com/ternarybob/imprimo/internal/services/safety"
	"github.com/ternarybob/imprimo/internal/storage/badger"
)

// fakeRenderer returns scripted results in order
type fakeRenderer struct {
	results []fakeResult
	calls   int
}

type fakeResult struct {
	pdf []byte
	err error
}

func (f *fakeRenderer) Render(ctx context.Context, url string, mode models.RenderMode, navTimeout time.Duration) ([]byte, error) {
	if f.calls >= len(f.results) {
		return nil, errors.New("unexpected render call")
	}
	r := f.results[f.calls]
	f.calls++
	return r.pdf, r.err
}

func (f *fakeRenderer) Close() error { return nil }

// stuckRenderer stands in for a page that never finishes loading: it blocks
// until the job deadline cancels the context, then reports a transient error
// the way the Chrome renderer classifies a deadline cancellation
type stuckRenderer struct {
	calls int
}

func (f *stuckRenderer) Render(ctx context.Context, url string, mode models.RenderMode, navTimeout time.Duration) ([]byte, error) {
	f.calls++
	<-ctx.Done()
	return nil, &render.Error{Message: "render cancelled by job deadline", Transient: true}
}

func (f *stuckRenderer) Close() error { return nil }

// offlineTransport refuses every probe, so redirect checks degrade to a
// pass-through without touching the network
type offlineTransport struct{}

func (offlineTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func newTestWorker(t *testing.T, renderer interfaces.Renderer) (*Worker, interfaces.QueueService, interfaces.StorageManager, *common.Config) {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	config := common.NewDefaultConfig()
	config.Storage.PDFPath = t.TempDir()

	validator := safety.NewValidator(logger)
	redirects := safety.NewRedirectCheckerWithClient(validator, logger, &http.Client{Transport: offlineTransport{}})
	q := queue.NewService(manager, config, logger)

	w := NewWorker(q, manager.HeartbeatStorage(), renderer, validator, redirects, config, logger)
	return w, q, manager, config
}

func submitAndClaim(t *testing.T, q interfaces.QueueService, url, domain string) *models.Job {
	t.Helper()
	ctx := context.Background()

	_, _, err := q.Submit(ctx, interfaces.SubmitRequest{
		URL:           url,
		NormalizedURL: url,
		DomainKey:     domain,
		RenderMode:    models.RenderModePrintToPDF,
	})
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestProcessSuccessWritesArtifact(t *testing.T) {
	renderer := &fakeRenderer{results: []fakeResult{{pdf: []byte("%PDF-1.4 fake")}}}
	w, q, manager, _ := newTestWorker(t, renderer)
	ctx := context.Background()

	job := submitAndClaim(t, q, "https://example.com/page", "example.com")
	w.process(ctx, job)

	got, err := manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	require.NotEmpty(t, got.ArtifactPath)

	data, err := os.ReadFile(got.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 fake"), data)

	// lock released on success
	_, err = manager.LockStorage().Get(ctx, "example.com")
	assert.ErrorIs(t, err, interfaces.ErrLockNotFound)
}

func TestProcessTransientFailureRetriesThenSucceeds(t *testing.T) {
	renderer := &fakeRenderer{results: []fakeResult{
		{err: &render.Error{Message: "navigation timed out", Transient: true}},
		{pdf: []byte("%PDF-1.4 second try")},
	}}
	w, q, manager, _ := newTestWorker(t, renderer)
	ctx := context.Background()

	job := submitAndClaim(t, q, "https://example.com/flaky", "example.com")
	w.process(ctx, job)

	requeued, err := manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, requeued.Status)
	assert.Equal(t, 1, requeued.Attempts)

	retry, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Equal(t, 2, retry.Attempts)

	w.process(ctx, retry)

	done, err := manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, done.Status)
}

func TestProcessExhaustsRetryBudget(t *testing.T) {
	fail := fakeResult{err: &render.Error{Message: "navigation failed", Transient: true}}
	renderer := &fakeRenderer{results: []fakeResult{fail, fail, fail}}
	w, q, manager, _ := newTestWorker(t, renderer)
	ctx := context.Background()

	// default max_retries is 2, so attempts 1 and 2 requeue, attempt 3 fails
	job := submitAndClaim(t, q, "https://example.com/broken", "example.com")
	w.process(ctx, job)

	for attempt := 2; attempt <= 3; attempt++ {
		claimed, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, attempt, claimed.Attempts)
		w.process(ctx, claimed)
	}

	done, err := manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, models.ErrorCodeRenderFailed, done.ErrorCode)
	assert.Equal(t, 3, done.Attempts)

	_, err = manager.LockStorage().Get(ctx, "example.com")
	assert.ErrorIs(t, err, interfaces.ErrLockNotFound)
}

func TestProcessJobTimeoutRetriesThenFails(t *testing.T) {
	renderer := &stuckRenderer{}
	w, q, manager, _ := newTestWorker(t, renderer)
	ctx := context.Background()

	// backdate started_at past the job timeout so the deadline anchored on
	// it has already expired when the render begins
	expire := func(job *models.Job) {
		past := time.Now().UTC().Add(-time.Duration(job.JobTimeoutSecs+1) * time.Second)
		job.StartedAt = &past
		require.NoError(t, manager.JobStorage().UpdateJob(ctx, job))
	}

	job := submitAndClaim(t, q, "https://example.com/slow", "example.com")
	expire(job)
	w.process(ctx, job)

	requeued, err := manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, requeued.Status)
	assert.Equal(t, 1, requeued.Attempts)

	// default max_retries is 2, so attempts 2 and 3 follow before failing
	for attempt := 2; attempt <= 3; attempt++ {
		claimed, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, attempt, claimed.Attempts)
		expire(claimed)
		w.process(ctx, claimed)
	}

	done, err := manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, models.ErrorCodeRenderFailed, done.ErrorCode)
	assert.Equal(t, 3, done.Attempts)
	assert.Equal(t, 3, renderer.calls)

	_, err = manager.LockStorage().Get(ctx, "example.com")
	assert.ErrorIs(t, err, interfaces.ErrLockNotFound)
}

func TestProcessPermanentFailureDoesNotRetry(t *testing.T) {
	renderer := &fakeRenderer{results: []fakeResult{
		{err: &render.Error{Message: "unknown render mode", Transient: false}},
	}}
	w, q, manager, _ := newTestWorker(t, renderer)
	ctx := context.Background()

	job := submitAndClaim(t, q, "https://example.com/perm", "example.com")
	w.process(ctx, job)

	done, err := manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, models.ErrorCodeRenderFailed, done.ErrorCode)
	assert.Equal(t, 1, done.Attempts)
}

func TestProcessRevalidatesURLBeforeRender(t *testing.T) {
	renderer := &fakeRenderer{} // must never be called
	w, q, manager, _ := newTestWorker(t, renderer)
	ctx := context.Background()

	// bypasses API validation on purpose; the worker must catch it
	job := submitAndClaim(t, q, "http://169.254.169.254/latest/meta-data/", "169.254.169.254")
	w.process(ctx, job)

	done, err := manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, models.ErrorCodeSSRFBlocked, done.ErrorCode)
	assert.Zero(t, renderer.calls)
}

func TestWorkerRecordsHeartbeat(t *testing.T) {
	renderer := &fakeRenderer{results: []fakeResult{{pdf: []byte("%PDF-1.4")}}}
	w, q, manager, config := newTestWorker(t, renderer)
	ctx := context.Background()

	job := submitAndClaim(t, q, "https://example.com/", "example.com")
	w.process(ctx, job)

	hb, err := manager.HeartbeatStorage().Get(ctx, config.Worker.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStateIdle, hb.State)
	assert.Empty(t, hb.CurrentJobID)
	assert.WithinDuration(t, time.Now().UTC(), hb.LastBeat, 5*time.Second)
}

func TestHeartbeatRefreshKeepsTrackedState(t *testing.T) {
	renderer := &fakeRenderer{}
	w, _, manager, config := newTestWorker(t, renderer)
	ctx := context.Background()

	w.beat(ctx, models.WorkerStateWorking, "job-123")

	// an out-of-band write must not leak back in on the next refresh
	stale := &models.WorkerHeartbeat{
		WorkerID: config.Worker.WorkerID,
		LastBeat: time.Now().UTC().Add(-time.Minute),
		State:    models.WorkerStateIdle,
	}
	require.NoError(t, manager.HeartbeatStorage().Upsert(ctx, stale))

	w.rebeat(ctx)

	hb, err := manager.HeartbeatStorage().Get(ctx, config.Worker.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStateWorking, hb.State)
	assert.Equal(t, "job-123", hb.CurrentJobID)
	assert.WithinDuration(t, time.Now().UTC(), hb.LastBeat, 5*time.Second)
}
