package safety

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
)

const maxRedirectHops = 5

// RedirectChecker walks a URL's redirect chain before rendering and applies
// the safety validator to every hop. A redirect that lands on a different
// registrable domain is allowed; the domain lock stays keyed to the
// submitted URL.
type RedirectChecker struct {
	client    *http.Client
	validator *Validator
	logger    arbor.ILogger
}

// NewRedirectChecker creates a redirect checker with a non-following client
func NewRedirectChecker(validator *Validator, logger arbor.ILogger) *RedirectChecker {
	return NewRedirectCheckerWithClient(validator, logger, &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	})
}

// NewRedirectCheckerWithClient creates a redirect checker using the given
// client. The client must not follow redirects itself.
func NewRedirectCheckerWithClient(validator *Validator, logger arbor.ILogger, client *http.Client) *RedirectChecker {
	return &RedirectChecker{
		client:    client,
		validator: validator,
		logger:    logger,
	}
}

// Check follows up to maxRedirectHops redirects with HEAD requests,
// validating each target. It returns the final URL to render. Network
// failures stop the walk and return the current URL unchanged; the render
// itself will surface the failure as transient.
func (c *RedirectChecker) Check(ctx context.Context, rawURL string) (string, error) {
	current := rawURL

	for hop := 0; hop < maxRedirectHops; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, current, nil)
		if err != nil {
			return current, nil
		}

		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", current).Msg("Redirect probe failed, proceeding to render")
			return current, nil
		}
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		default:
			return current, nil
		}

		location := resp.Header.Get("Location")
		if location == "" {
			return current, nil
		}

		next, err := resolveLocation(current, location)
		if err != nil {
			return current, nil
		}

		result, err := c.validator.Validate(next)
		if err != nil {
			return "", err
		}

		c.logger.Debug().
			Str("from", current).
			Str("to", result.NormalizedURL).
			Int("hop", hop+1).
			Msg("Following validated redirect")
		current = next
	}

	return current, nil
}

// resolveLocation makes a possibly-relative Location header absolute
func resolveLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	locURL, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(locURL).String(), nil
}
