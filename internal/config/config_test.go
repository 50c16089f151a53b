package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicbot/internal/types"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "GOOGLE_MAPS_API_KEY", "CIVIC_DB", "CIVIC_DATABASE_URL", "CIVIC_CITY"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("expected Provider=gemini, got %s", cfg.LLM.Provider)
	}
	if cfg.Events.MaxDisplay != 10 {
		t.Errorf("expected MaxDisplay=10, got %d", cfg.Events.MaxDisplay)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected Driver=sqlite, got %s", cfg.Store.Driver)
	}
	assert.NoError(t, cfg.ValidateOffline())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "civicbot.yaml")

	cfg := DefaultConfig()
	cfg.City.Name = "Sevilla"
	cfg.City.Locality = "Sevilla"
	cfg.LLM.APIKey = "file-key"
	cfg.Documents = []types.KnownDocument{{ProcedureName: "Empadronamiento", FileRef: "docs/padron.pdf"}}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "civicbot.yaml")
	yaml := `
city:
  name: Cádiz
events:
  max_display: 5
documents:
  - procedure_name: Licencia de obra
    file_ref: docs/obra.pdf
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Cádiz", cfg.City.Name)
	assert.Equal(t, "es", cfg.City.Language)
	assert.Equal(t, 5, cfg.Events.MaxDisplay)
	assert.True(t, cfg.Events.DropPast)
	require.Len(t, cfg.Documents, 1)
	assert.Equal(t, "Licencia de obra", cfg.Documents[0].ProcedureName)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("city: [unterminated"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY wins over GOOGLE_API_KEY", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GOOGLE_API_KEY", "google-key")
		t.Setenv("GEMINI_API_KEY", "gemini-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "gemini-key", cfg.LLM.APIKey)
	})

	t.Run("GOOGLE_API_KEY alone", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GOOGLE_API_KEY", "google-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "google-key", cfg.LLM.APIKey)
	})

	t.Run("database URL switches to postgres", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CIVIC_DATABASE_URL", "postgres://u@localhost/civic")
		t.Setenv("CIVIC_DB", "/var/lib/civic.db")
		t.Setenv("GOOGLE_MAPS_API_KEY", "maps-key")
		t.Setenv("CIVIC_CITY", "Málaga")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "postgres", cfg.Store.Driver)
		assert.Equal(t, "postgres://u@localhost/civic", cfg.Store.DSN)
		assert.Equal(t, "/var/lib/civic.db", cfg.Store.Path)
		assert.Equal(t, "maps-key", cfg.Places.APIKey)
		assert.Equal(t, "Málaga", cfg.City.Name)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing key", func(c *Config) { c.LLM.APIKey = "" }, "API key"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "openai" }, "invalid LLM provider"},
		{"bad driver", func(c *Config) { c.Store.Driver = "mongo" }, "invalid store driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "requires store.dsn"},
		{"negative max", func(c *Config) { c.Events.MaxDisplay = -1 }, "max_display"},
		{"bad zone", func(c *Config) { c.City.TimeZone = "Mars/Olympus" }, "time_zone"},
		{"incomplete document", func(c *Config) {
			c.Documents = []types.KnownDocument{{ProcedureName: "Padrón"}}
		}, "file_ref"},
		{"duplicate document", func(c *Config) {
			c.Documents = []types.KnownDocument{
				{ProcedureName: "Padrón", FileRef: "a.pdf"},
				{ProcedureName: "Padrón", FileRef: "b.pdf"},
			}
		}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LLM.APIKey = "k"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_DurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetPlacesTimeout())
	assert.Equal(t, 720*time.Hour, cfg.GetPlaceCacheTTL())
	assert.Equal(t, 10*time.Second, cfg.GetReadTimeout())
	assert.Equal(t, 90*time.Second, cfg.GetWriteTimeout())
	assert.Equal(t, time.Hour, cfg.GetSessionIdleTTL())

	cfg.Session.IdleTTL = "15m"
	assert.Equal(t, 15*time.Minute, cfg.GetSessionIdleTTL())

	cfg.LLM.Timeout = "soon"
	cfg.Places.Timeout = "-1s"
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetPlacesTimeout())
}

func TestConfig_Location(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Madrid", loc.String())

	cfg.City.TimeZone = ""
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoggingConfig(t *testing.T) {
	lc := LoggingConfig{Level: "debug", Categories: map[string]bool{"store": false}}
	assert.False(t, lc.IsCategoryEnabled("store"))
	assert.True(t, lc.IsCategoryEnabled("session"))

	out := lc.ToLogging()
	assert.Equal(t, "debug", out.Level)
	assert.Equal(t, lc.Categories, out.Categories)
}
