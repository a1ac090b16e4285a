package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":"9000","locale":"de","pageSize":25,"devBackend":true}`), 0o644))
	t.Setenv("CONSOLE_PORT", "9100")
	t.Setenv("CONSOLE_DEBOUNCE_MS", "150")
	t.Setenv("CONSOLE_DEV_STORE", " memory ")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port, "env wins over JSON")
	assert.Equal(t, "de", cfg.Locale)
	assert.Equal(t, 25, cfg.PageSize)
	assert.True(t, cfg.DevBackend)
	assert.Equal(t, "memory", cfg.DevStore)
	assert.Equal(t, 150*time.Millisecond, cfg.Debounce())
	assert.Equal(t, "screens", cfg.ScreensDir, "defaults survive")
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadBrokenJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyFlagsOnlyChanged(t *testing.T) {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--port", "7000", "--dev-backend", "--page-size=50"}))

	cfg := Default()
	cfg.Locale = "fr"
	require.NoError(t, ApplyFlags(fs, &cfg))
	assert.Equal(t, "7000", cfg.Port)
	assert.True(t, cfg.DevBackend)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, "fr", cfg.Locale, "unset flag keeps the loaded value")
}

func TestFromFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backendUrl":"http://crm/api"}`), 0o644))

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path, "--log-mode", "development"}))

	cfg, err := FromFlags(fs)
	require.NoError(t, err)
	assert.Equal(t, "http://crm/api", cfg.BackendURL)
	assert.Equal(t, "development", cfg.LogMode)
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Port = "http"
	cfg.DevStore = "sqlite"
	cfg.PageSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	// port, devStore, backendUrl, pageSize
	assert.Len(t, merr.Errors, 4)

	ok := Default()
	ok.DevBackend = true
	assert.NoError(t, ok.Validate())

	pg := ok
	pg.DevStore = "postgres"
	assert.Error(t, pg.Validate())
	pg.DBURL = "postgres://localhost/console"
	assert.NoError(t, pg.Validate())
}
