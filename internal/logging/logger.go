// Package logging provides config-driven categorized logging for civicbot.
// Every subsystem asks for a logger by category; all categories share one zap core
// so output format and level are decided once, at startup.
// Until Initialize is called (or when debug mode is off and the level filters a call)
// loggers are silent no-ops.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot         Category = "boot"         // Boot/initialization
	CategoryAPI          Category = "api"          // LLM API calls
	CategoryArticulation Category = "articulation" // Marker extraction from model output
	CategorySanitize     Category = "sanitize"     // Event/place sanitization
	CategoryPlaces       Category = "places"       // Places resolver and cache
	CategorySession      Category = "session"      // Conversation controller, ledger
	CategoryStore        Category = "store"        // Ledger and cache persistence
	CategoryServer       Category = "server"       // HTTP surface
	CategoryCalendar     Category = "calendar"     // iCalendar export
)

// Config mirrors config.LoggingConfig to avoid circular imports.
type Config struct {
	DebugMode  bool
	Level      string // debug, info, warn, error
	Format     string // json, console
	Categories map[string]bool
	OutputPath string // empty = stderr
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	root      *zap.Logger
	config    Config
	configMu  sync.RWMutex
)

// Initialize builds the shared zap logger from cfg.
// Should be called once at startup; calling it again replaces the previous core.
func Initialize(cfg Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if cfg.DebugMode {
		level = zapcore.DebugLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" || cfg.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = !cfg.DebugMode
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	built, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	install(built, cfg)

	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s", level, cfg.Format)
	return nil
}

// InitializeWith installs an existing zap logger, e.g. one built by the CLI or zaptest.
func InitializeWith(l *zap.Logger, cfg Config) {
	install(l, cfg)
}

func install(l *zap.Logger, cfg Config) {
	configMu.Lock()
	root = l
	config = cfg
	configMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
}

// Root returns the shared zap logger, or a no-op logger before Initialize.
func Root() *zap.Logger {
	configMu.RLock()
	defer configMu.RUnlock()
	if root == nil {
		return zap.NewNop()
	}
	return root
}

// Sync flushes buffered log entries.
func Sync() {
	configMu.RLock()
	l := root
	configMu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if root == nil {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging is not initialized or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{
		category: category,
		sugar:    Root().Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger that attaches the given key-value pairs to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}
