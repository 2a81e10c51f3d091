package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/imprimo/internal/models"
)

// Renderer converts a URL into PDF bytes. Implementations must honor the
// navigation timeout and must classify failures as transient or permanent
// (see render.Error); the worker retries only transient ones.
type Renderer interface {
	Render(ctx context.Context, url string, mode models.RenderMode, navTimeout time.Duration) ([]byte, error)

	// Close releases the underlying browser resources.
	Close() error
}
