package safety

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/models"
)

// cannedTransport serves scripted responses by URL without any network
type cannedTransport struct {
	responses map[string]cannedResponse
}

type cannedResponse struct {
	status   int
	location string
}

func (t *cannedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, ok := t.responses[req.URL.String()]
	if !ok {
		return nil, errors.New("connection refused")
	}

	header := http.Header{}
	if resp.location != "" {
		header.Set("Location", resp.location)
	}
	return &http.Response{
		StatusCode: resp.status,
		Header:     header,
		Body:       http.NoBody,
		Request:    req,
	}, nil
}

func newTestChecker(responses map[string]cannedResponse) *RedirectChecker {
	return NewRedirectCheckerWithClient(
		newTestValidator(),
		arbor.NewLogger(),
		&http.Client{
			Transport: &cannedTransport{responses: responses},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	)
}

func TestCheckNoRedirect(t *testing.T) {
	checker := newTestChecker(map[string]cannedResponse{
		"https://example.com/page": {status: http.StatusOK},
	})

	final, err := checker.Check(context.Background(), "https://example.com/page")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", final)
}

func TestCheckFollowsValidatedChain(t *testing.T) {
	checker := newTestChecker(map[string]cannedResponse{
		"https://example.com/a": {status: http.StatusMovedPermanently, location: "/b"},
		"https://example.com/b": {status: http.StatusFound, location: "https://other.com/c"},
		"https://other.com/c":   {status: http.StatusOK},
	})

	// cross-domain redirects are allowed once each hop passes validation
	final, err := checker.Check(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "https://other.com/c", final)
}

func TestCheckBlocksRedirectToPrivateTarget(t *testing.T) {
	checker := newTestChecker(map[string]cannedResponse{
		"https://example.com/a": {status: http.StatusFound, location: "http://169.254.169.254/latest/meta-data/"},
	})

	_, err := checker.Check(context.Background(), "https://example.com/a")
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, models.ErrorCodeSSRFBlocked, verr.Code)
}

func TestCheckStopsAtHopLimit(t *testing.T) {
	// a loop never terminates on its own; the hop cap does
	checker := newTestChecker(map[string]cannedResponse{
		"https://example.com/a": {status: http.StatusFound, location: "https://example.com/b"},
		"https://example.com/b": {status: http.StatusFound, location: "https://example.com/a"},
	})

	final, err := checker.Check(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Contains(t, []string{"https://example.com/a", "https://example.com/b"}, final)
}

func TestCheckToleratesNetworkFailure(t *testing.T) {
	checker := newTestChecker(map[string]cannedResponse{})

	final, err := checker.Check(context.Background(), "https://unreachable.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://unreachable.example.com/", final)
}
