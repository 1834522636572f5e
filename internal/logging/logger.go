// Package logging provides category-based structured logging for the
// memory engine, backed by zap. Every subsystem logs through a named
// category that tags its lines; the log level is one global setting
// chosen at Initialize, with no per-category level.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies the subsystem emitting a log line.
type Category string

const (
	CategoryBoot          Category = "boot"
	CategoryConfig        Category = "config"
	CategoryEvents        Category = "events"
	CategoryVCS           Category = "vcs"
	CategoryEntity        Category = "entity"
	CategoryComponent     Category = "component"
	CategoryChangelog     Category = "changelog"
	CategoryScratch       Category = "scratch"
	CategorySnapshot      Category = "snapshot"
	CategoryRelationship  Category = "relationship"
	CategoryIndex         Category = "index"
	CategorySearch        Category = "search"
	CategoryValidator     Category = "validator"
	CategorySummarizer    Category = "summarizer"
	CategoryDecay         Category = "decay"
	CategoryWorkspaceSync Category = "workspace_sync"
	CategoryHealth        Category = "health"
	CategoryRetrieval     Category = "retrieval"
	CategoryLLM           Category = "llm"
	CategoryProtocol      Category = "protocol"
)

var (
	mu       sync.RWMutex
	base     *zap.Logger
	loggers  = make(map[Category]*Logger)
	initOnce sync.Once
)

// Initialize configures the global zap backend. debug=true switches to a
// development encoder (console, caller info, debug level); otherwise a
// production JSON encoder at info level is used. Safe to call once at
// process boot; later calls are no-ops.
func Initialize(debug bool) error {
	var err error
	initOnce.Do(func() {
		var cfg zap.Config
		if debug {
			cfg = zap.NewDevelopmentConfig()
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			cfg = zap.NewProductionConfig()
			cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
		base, err = cfg.Build()
	})
	return err
}

// Sync flushes any buffered log entries. Call on shutdown.
func Sync() {
	mu.RLock()
	b := base
	mu.RUnlock()
	if b != nil {
		_ = b.Sync()
	}
}

// Logger is a category-scoped formatter over a zap.SugaredLogger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

// Get returns (creating if necessary) the logger for category.
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

	b := base
	if b == nil {
		b = zap.NewNop()
	}
	l = &Logger{
		category: category,
		sugar:    b.Sugar().With("category", string(category)),
	}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Timer tracks the duration of a named operation within a category and
// logs it at Debug level on Stop.
type Timer struct {
	logger    *Logger
	operation string
	start     time.Time
}

// StartTimer begins timing operation within category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		logger:    Get(category),
		operation: operation,
		start:     time.Now(),
	}
}

// Stop logs the elapsed duration since StartTimer.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug("%s took %s", t.operation, elapsed)
	return elapsed
}

// Fields renders a key/value map into a single log-friendly string, used
// by callers that want structured context inline with a formatted message.
func Fields(kv map[string]interface{}) string {
	s := ""
	for k, v := range kv {
		s += fmt.Sprintf(" %s=%v", k, v)
	}
	return s
}
