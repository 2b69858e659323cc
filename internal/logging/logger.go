// Package logging builds the zap logger used across challengeflow.
// Output always goes to the console; when a log directory is configured each
// category also gets its own dated file, plus a session file that receives
// every entry. Components pick their category with For.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"challengeflow/internal/config"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot         Category = "boot"         // CLI startup, config
	CategoryOrchestrator Category = "orchestrator" // state machine transitions
	CategorySolver       Category = "solver"       // solving service interactions
	CategoryObservation  Category = "observation"  // capture, compression, OCR
	CategoryAction       Category = "action"       // taps and presence checks
	CategoryJournal      Category = "journal"      // session journal writes
	CategoryBrowser      Category = "browser"      // browser lifecycle
)

// AllCategories lists every category that gets a file.
var AllCategories = []Category{
	CategoryBoot, CategoryOrchestrator, CategorySolver, CategoryObservation,
	CategoryAction, CategoryJournal, CategoryBrowser,
}

// sessionFile receives every entry regardless of category.
const sessionFile = "session"

// For returns l scoped to a category.
func For(l *zap.Logger, c Category) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return l.Named(string(c))
}

// ParseLevel maps a config level string to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds the logger described by cfg. verbose forces debug level, as
// does cfg.DebugMode. The returned closer syncs and closes any files.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, func() error, error) {
	level := ParseLevel(cfg.Level)
	if verbose || cfg.DebugMode {
		level = zapcore.DebugLevel
	}
	enabler := zap.NewAtomicLevelAt(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	newEncoder := func() zapcore.Encoder {
		if cfg.Format == "json" {
			return zapcore.NewJSONEncoder(encCfg)
		}
		return zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stderr), enabler),
	}
	var files []*os.File
	closer := func() error {
		var err error
		for _, f := range files {
			err = multierr.Append(err, f.Sync())
			err = multierr.Append(err, f.Close())
		}
		return err
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		date := time.Now().Format("2006-01-02")
		open := func(name string) (*os.File, error) {
			path := filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s.log", date, name))
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
			}
			files = append(files, f)
			return f, nil
		}

		f, err := open(sessionFile)
		if err != nil {
			_ = closer()
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.AddSync(f), enabler))

		for _, cat := range AllCategories {
			if !cfg.IsCategoryEnabled(string(cat)) {
				continue
			}
			f, err := open(string(cat))
			if err != nil {
				_ = closer()
				return nil, nil, err
			}
			cores = append(cores, &categoryCore{
				Core:     zapcore.NewCore(newEncoder(), zapcore.AddSync(f), enabler),
				category: string(cat),
			})
		}
	}

	return zap.New(zapcore.NewTee(cores...)), closer, nil
}

// categoryCore only accepts entries whose logger name contains its category
// as a dot-separated segment.
type categoryCore struct {
	zapcore.Core
	category string
}

func (c *categoryCore) With(fields []zapcore.Field) zapcore.Core {
	return &categoryCore{Core: c.Core.With(fields), category: c.category}
}

func (c *categoryCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !hasSegment(e.LoggerName, c.category) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func hasSegment(name, segment string) bool {
	for _, part := range strings.Split(name, ".") {
		if part == segment {
			return true
		}
	}
	return false
}
