// Package logging provides categorized structured logging for tasknerd.
// Every subsystem logs through a named category; the categories share one zap core
// built from the logging section of the config. Until Initialize is called every
// category writes to a no-op core, so library use and tests stay silent.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot            Category = "boot"            // Boot/initialization
	CategoryPerception      Category = "perception"      // Normalization, extraction, rule classification
	CategoryAPI             Category = "api"             // Reasoning service calls
	CategoryResolver        Category = "resolver"        // Merge and confidence gate decisions
	CategorySession         Category = "session"         // Pending-intent lifecycle
	CategoryStore           Category = "store"           // Keyed stores, SQLite
	CategoryPersonalization Category = "personalization" // Preference learning and application
	CategoryServer          Category = "server"          // HTTP boundary
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string
	Format     string // json, console
	File       string
	Categories map[string]bool
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	loggers    = make(map[Category]*Logger)
	categories map[string]bool
)

// Initialize builds the shared zap logger from cfg.
func Initialize(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" || cfg.Format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		zcfg.OutputPaths = []string{cfg.File}
		zcfg.ErrorOutputPaths = []string{cfg.File}
	}

	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	SetLogger(l)

	mu.Lock()
	categories = cfg.Categories
	mu.Unlock()

	Boot("logging initialized: level=%s format=%s", level, zcfg.Encoding)
	return nil
}

// SetLogger replaces the shared zap logger. Category loggers are rebuilt lazily.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	base = l
	loggers = make(map[Category]*Logger)
}

// Zap returns the shared zap logger.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered entries (call at shutdown).
func Sync() {
	_ = Zap().Sync()
}

// IsCategoryEnabled reports whether category is enabled. Categories absent from the
// filter are enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) the logger for category.
func Get(category Category) *Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	z := base
	if categories != nil {
		if enabled, ok := categories[string(category)]; ok && !enabled {
			z = zap.NewNop()
		}
	}
	l = &Logger{
		category: category,
		sugar:    z.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// With returns a logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Perception(format string, args ...interface{})      { Get(CategoryPerception).Info(format, args...) }
func PerceptionDebug(format string, args ...interface{}) { Get(CategoryPerception).Debug(format, args...) }
func PerceptionWarn(format string, args ...interface{})  { Get(CategoryPerception).Warn(format, args...) }
func PerceptionError(format string, args ...interface{}) { Get(CategoryPerception).Error(format, args...) }

func API(format string, args ...interface{})      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }
func APIWarn(format string, args ...interface{})  { Get(CategoryAPI).Warn(format, args...) }
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

func Resolver(format string, args ...interface{})      { Get(CategoryResolver).Info(format, args...) }
func ResolverDebug(format string, args ...interface{}) { Get(CategoryResolver).Debug(format, args...) }
func ResolverWarn(format string, args ...interface{})  { Get(CategoryResolver).Warn(format, args...) }
func ResolverError(format string, args ...interface{}) { Get(CategoryResolver).Error(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionWarn(format string, args ...interface{})  { Get(CategorySession).Warn(format, args...) }
func SessionError(format string, args ...interface{}) { Get(CategorySession).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Personalization(format string, args ...interface{}) {
	Get(CategoryPersonalization).Info(format, args...)
}
func PersonalizationDebug(format string, args ...interface{}) {
	Get(CategoryPersonalization).Debug(format, args...)
}
func PersonalizationWarn(format string, args ...interface{}) {
	Get(CategoryPersonalization).Warn(format, args...)
}

func Server(format string, args ...interface{})      { Get(CategoryServer).Info(format, args...) }
func ServerDebug(format string, args ...interface{}) { Get(CategoryServer).Debug(format, args...) }
func ServerWarn(format string, args ...interface{})  { Get(CategoryServer).Warn(format, args...) }
func ServerError(format string, args ...interface{}) { Get(CategoryServer).Error(format, args...) }

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer starts timing operation under category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
