package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "print_to_pdf", cfg.Render.DefaultMode)
	assert.Equal(t, 45, cfg.Render.NavigationTimeoutSeconds)
	assert.Equal(t, 120, cfg.Render.JobTimeoutSeconds)
	assert.Equal(t, 600, cfg.Render.MaxDomainWaitSeconds)
	assert.Equal(t, 2, cfg.Render.MaxRetries)
	assert.Equal(t, 1020, cfg.Cleanup.FileAgeSeconds)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFilesOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imprimo.toml")
	content := `
[server]
port = 9100

[render]
default_mode = "screenshot_to_pdf"
max_retries = 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "screenshot_to_pdf", cfg.Render.DefaultMode)
	assert.Equal(t, 4, cfg.Render.MaxRetries)
	// untouched values keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 45, cfg.Render.NavigationTimeoutSeconds)
}

func TestLoadFromFilesRejectsBadRenderMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imprimo.toml")
	require.NoError(t, os.WriteFile(path, []byte("[render]\ndefault_mode = \"jpeg\"\n"), 0o644))

	_, err := LoadFromFiles(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9200")
	t.Setenv("MAX_RETRIES", "0")
	t.Setenv("PDF_STORAGE_PATH", "/tmp/imprimo-pdfs")

	cfg, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Render.MaxRetries) // zero is a valid override
	assert.Equal(t, "/tmp/imprimo-pdfs", cfg.Storage.PDFPath)
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	ApplyFlagOverrides(cfg, 9300, "127.0.0.1")
	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	// zero values leave config untouched
	ApplyFlagOverrides(cfg, 0, "")
	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}
