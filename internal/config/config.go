// Package config loads civicbot's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // city time zones on hosts without a zoneinfo database

	"gopkg.in/yaml.v3"

	"civicbot/internal/types"
)

// Config holds all civicbot configuration.
type Config struct {
	City      CityConfig            `yaml:"city"`
	Events    EventsConfig          `yaml:"events"`
	LLM       LLMConfig             `yaml:"llm"`
	Places    PlacesConfig          `yaml:"places"`
	Store     StoreConfig           `yaml:"store"`
	Documents []types.KnownDocument `yaml:"documents,omitempty"`
	Session   SessionConfig         `yaml:"session"`
	Server    ServerConfig          `yaml:"server"`
	Logging   LoggingConfig         `yaml:"logging"`
}

// CityConfig names the municipality the assistant serves.
type CityConfig struct {
	Name     string `yaml:"name"`
	Locality string `yaml:"locality"` // appended to place searches; empty = unrestricted
	Language string `yaml:"language"`
	TimeZone string `yaml:"time_zone"` // IANA name; decides what "today" is
}

// EventsConfig tunes the event pipeline.
type EventsConfig struct {
	MaxDisplay int  `yaml:"max_display"`
	Year       int  `yaml:"year"`      // 0 = current year
	DropPast   bool `yaml:"drop_past"` // hide events that already ended
}

// LLMConfig configures the language model.
type LLMConfig struct {
	Provider           string  `yaml:"provider"` // gemini
	APIKey             string  `yaml:"api_key"`
	Model              string  `yaml:"model"`
	Timeout            string  `yaml:"timeout"`
	Temperature        float32 `yaml:"temperature"`
	EnableGoogleSearch bool    `yaml:"enable_google_search"`
}

// PlacesConfig configures place verification.
type PlacesConfig struct {
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"`
	CacheTTL string `yaml:"cache_ttl"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// SessionConfig bounds in-memory conversation state.
type SessionConfig struct {
	IdleTTL string `yaml:"idle_ttl"` // conversations unused this long are dropped from memory
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		City: CityConfig{
			Name:     "Ayuntamiento",
			Language: "es",
			TimeZone: "Europe/Madrid",
		},
		Events: EventsConfig{
			MaxDisplay: 10,
			DropPast:   true,
		},
		LLM: LLMConfig{
			Provider:           "gemini",
			Model:              "gemini-2.5-flash",
			Timeout:            "60s",
			Temperature:        0.2,
			EnableGoogleSearch: true,
		},
		Places: PlacesConfig{
			Timeout:  "5s",
			CacheTTL: "720h",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/civicbot.db",
		},
		Session: SessionConfig{
			IdleTTL: "1h",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  "10s",
			WriteTimeout: "90s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// GOOGLE_API_KEY is the GenAI SDK's own variable; GEMINI_API_KEY wins.
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GOOGLE_MAPS_API_KEY"); key != "" {
		c.Places.APIKey = key
	}
	if path := os.Getenv("CIVIC_DB"); path != "" {
		c.Store.Path = path
	}
	if dsn := os.Getenv("CIVIC_DATABASE_URL"); dsn != "" {
		c.Store.DSN = dsn
		c.Store.Driver = "postgres"
	}
	if city := os.Getenv("CIVIC_CITY"); city != "" {
		c.City.Name = city
	}
}

// ValidDrivers lists the supported store backends.
var ValidDrivers = []string{"sqlite", "postgres"}

// Validate validates the configuration needed to answer questions.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	if p := strings.ToLower(c.LLM.Provider); p != "" && p != "gemini" {
		return fmt.Errorf("invalid LLM provider: %s (valid: gemini)", c.LLM.Provider)
	}
	return c.ValidateOffline()
}

// ValidateOffline checks everything that does not need credentials.
func (c *Config) ValidateOffline() error {
	validDriver := false
	for _, d := range ValidDrivers {
		if strings.ToLower(c.Store.Driver) == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidDrivers)
	}
	if strings.EqualFold(c.Store.Driver, "postgres") && c.Store.DSN == "" {
		return fmt.Errorf("store driver postgres requires store.dsn or CIVIC_DATABASE_URL")
	}
	if c.Events.MaxDisplay < 0 {
		return fmt.Errorf("events.max_display must not be negative, got %d", c.Events.MaxDisplay)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Documents))
	for _, d := range c.Documents {
		if strings.TrimSpace(d.ProcedureName) == "" || strings.TrimSpace(d.FileRef) == "" {
			return fmt.Errorf("document entries need procedure_name and file_ref")
		}
		if seen[d.ProcedureName] {
			return fmt.Errorf("duplicate document procedure_name %q", d.ProcedureName)
		}
		seen[d.ProcedureName] = true
	}
	return nil
}

// Location returns the city time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.City.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.City.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid city.time_zone %q: %w", c.City.TimeZone, err)
	}
	return loc, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// GetPlacesTimeout returns the per-lookup resolver timeout.
func (c *Config) GetPlacesTimeout() time.Duration {
	return parseDuration(c.Places.Timeout, 5*time.Second)
}

// GetPlaceCacheTTL returns how long resolved place ids are cached.
func (c *Config) GetPlaceCacheTTL() time.Duration {
	return parseDuration(c.Places.CacheTTL, 30*24*time.Hour)
}

// GetSessionIdleTTL returns how long an unused conversation stays in memory.
func (c *Config) GetSessionIdleTTL() time.Duration {
	return parseDuration(c.Session.IdleTTL, time.Hour)
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 10*time.Second)
}

// GetWriteTimeout returns the HTTP write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 90*time.Second)
}
