// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 4:41:02 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/models"
)

// Options holds browser configuration for the Chrome renderer
type Options struct {
	Headless   bool
	NoSandbox  bool
	UserAgent  string
	SettleTime time.Duration
}

// ChromeRenderer renders webpages to PDF through a single headless Chrome
// instance. The browser is started once and each Render call opens a fresh
// tab, so page state never leaks between jobs.
type ChromeRenderer struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	opts          Options
	logger        arbor.ILogger
	mu            sync.Mutex
	closed        bool
}

// Compile-time assertion
var _ interfaces.Renderer = (*ChromeRenderer)(nil)

// NewChromeRenderer starts the headless browser and verifies it responds
func NewChromeRenderer(opts Options, logger arbor.ILogger) (*ChromeRenderer, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = "Imprimo/1.0"
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", opts.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(opts.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Fail fast if Chrome cannot start
	probeCtx, probeCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer probeCancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start headless browser: %w", err)
	}

	logger.Info().
		Bool("headless", opts.Headless).
		Str("user_agent", opts.UserAgent).
		Msg("Chrome renderer started")

	return &ChromeRenderer{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		opts:          opts,
		logger:        logger,
	}, nil
}

// Render navigates to url in a new tab and returns the resulting PDF bytes.
// navTimeout bounds navigation only; the caller's ctx carries the overall
// job deadline and cancels the tab when it expires.
func (r *ChromeRenderer) Render(ctx context.Context, url string, mode models.RenderMode, navTimeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, permanentf("renderer is closed")
	}
	r.mu.Unlock()

	if !mode.Valid() {
		return nil, permanentf(fmt.Sprintf("unknown render mode %q", mode))
	}

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	start := time.Now()

	navCtx, navCancel := context.WithTimeout(tabCtx, navTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, transientf(fmt.Sprintf("navigation timed out after %s", navTimeout))
		}
		if ctx.Err() != nil {
			return nil, transientf("render cancelled by job deadline")
		}
		return nil, transientf(fmt.Sprintf("navigation failed: %v", err))
	}

	// let late scripts and fonts finish before capture
	if r.opts.SettleTime > 0 {
		if err := chromedp.Run(tabCtx, chromedp.Sleep(r.opts.SettleTime)); err != nil {
			return nil, r.classify(ctx, err, "settle wait failed")
		}
	}

	var pdf []byte
	switch mode {
	case models.RenderModePrintToPDF:
		err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}))
		if err != nil {
			return nil, r.classify(ctx, err, "print to PDF failed")
		}

	case models.RenderModeScreenshotToPDF:
		var shot []byte
		if err := chromedp.Run(tabCtx, chromedp.FullScreenshot(&shot, 90)); err != nil {
			return nil, r.classify(ctx, err, "screenshot capture failed")
		}
		var err error
		pdf, err = screenshotToPDF(shot)
		if err != nil {
			return nil, transientf(fmt.Sprintf("screenshot to PDF conversion failed: %v", err))
		}
	}

	if len(pdf) == 0 {
		return nil, transientf("browser returned an empty document")
	}
	if err := validatePDF(pdf); err != nil {
		return nil, transientf(fmt.Sprintf("rendered document is not a valid PDF: %v", err))
	}

	r.logger.Debug().
		Str("url", url).
		Str("mode", string(mode)).
		Int("pdf_size", len(pdf)).
		Dur("duration", time.Since(start)).
		Msg("Page rendered")

	return pdf, nil
}

// classify maps a chromedp error to a transient render error, preferring
// the job-deadline message when the caller's context expired.
func (r *ChromeRenderer) classify(ctx context.Context, err error, what string) error {
	if ctx.Err() != nil {
		return transientf("render cancelled by job deadline")
	}
	return transientf(fmt.Sprintf("%s: %v", what, err))
}

// Close shuts down the browser. Render calls after Close fail.
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.browserCancel()
	r.allocCancel()
	r.logger.Info().Msg("Chrome renderer stopped")
	return nil
}
