// Package logging configures log/slog for pal: a console handler plus
// rotating main and error-only log files.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	pal "github.com/Paranoid-AF/pal"
)

// Log file names under paths.logs_dir.
const (
	MainLogFile  = "pal.log"
	ErrorLogFile = "errors.log"
)

// The error log rotates and expires on its own schedule.
const (
	errorRotation  = 7 * day
	errorRetention = 60 * day
	maxFileSizeMB  = 100
)

// Options tunes Setup beyond what the config carries.
type Options struct {
	// Verbose forces DEBUG on the console and main log.
	Verbose bool
	// Console receives console output; nil means os.Stderr.
	Console io.Writer
}

// Logs owns the open log files and their rotation timers.
type Logs struct {
	files []*lumberjack.Logger
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// Setup installs the default slog logger from cfg and returns the open
// log files. Callers must Close the result on shutdown.
func Setup(cfg *pal.Config, opts Options) (*Logs, error) {
	if cfg == nil {
		cfg = pal.DefaultConfig()
	}

	level, err := ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}

	rotation, err := ParseSpan(cfg.Logging.FileRotation)
	if err != nil {
		return nil, fmt.Errorf("logging.file_rotation: %w", err)
	}
	retention, err := ParseSpan(cfg.Logging.FileRetention)
	if err != nil {
		return nil, fmt.Errorf("logging.file_retention: %w", err)
	}

	logsDir := cfg.Paths.LogsDir
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	replace := replaceAttr(cfg.Privacy.AnonymizeLogs)

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: replace}
	var consoleHandler slog.Handler
	if cfg.Logging.Format == "json" {
		consoleHandler = slog.NewJSONHandler(console, consoleOpts)
	} else {
		consoleHandler = slog.NewTextHandler(console, consoleOpts)
	}

	mainLog := &lumberjack.Logger{
		Filename: filepath.Join(logsDir, MainLogFile),
		MaxSize:  maxFileSizeMB,
		MaxAge:   spanDays(retention),
		Compress: true,
	}
	errLog := &lumberjack.Logger{
		Filename: filepath.Join(logsDir, ErrorLogFile),
		MaxSize:  maxFileSizeMB,
		MaxAge:   spanDays(errorRetention),
		Compress: true,
	}

	logs := &Logs{
		files: []*lumberjack.Logger{mainLog, errLog},
		stop:  make(chan struct{}),
	}
	logs.rotateEvery(mainLog, rotation)
	logs.rotateEvery(errLog, errorRotation)

	handler := newFanout(
		consoleHandler,
		slog.NewJSONHandler(mainLog, &slog.HandlerOptions{Level: level, ReplaceAttr: replace}),
		slog.NewJSONHandler(errLog, &slog.HandlerOptions{Level: slog.LevelError, ReplaceAttr: replace}),
	)
	slog.SetDefault(slog.New(handler))

	slog.Info("logging configured successfully", "level", levelLabel(level), "logs_dir", logsDir)
	return logs, nil
}

// rotateEvery rotates l each interval until Close.
func (lg *Logs) rotateEvery(l *lumberjack.Logger, interval time.Duration) {
	lg.wg.Add(1)
	go func() {
		defer lg.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := l.Rotate(); err != nil {
					slog.Warn("log rotation failed", "file", l.Filename, "error", err)
				}
			case <-lg.stop:
				return
			}
		}
	}()
}

// Close stops rotation and closes the log files.
func (lg *Logs) Close() error {
	var errs []error
	lg.once.Do(func() {
		close(lg.stop)
		lg.wg.Wait()
		for _, f := range lg.files {
			if err := f.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// replaceAttr names custom levels and, when anonymize is set, redacts
// the message and every string attribute.
func replaceAttr(anonymize bool) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		switch {
		case a.Key == slog.LevelKey && len(groups) == 0:
			if lvl, ok := a.Value.Any().(slog.Level); ok {
				a.Value = slog.StringValue(levelLabel(lvl))
			}
			return a
		case a.Key == slog.TimeKey && len(groups) == 0:
			return a
		}
		if anonymize && a.Value.Kind() == slog.KindString {
			a.Value = slog.StringValue(Redact(a.Value.String()))
		}
		return a
	}
}

// fanout sends each record to every handler that accepts its level.
type fanout struct {
	handlers []slog.Handler
}

func newFanout(handlers ...slog.Handler) *fanout {
	return &fanout{handlers: handlers}
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: out}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithGroup(name)
	}
	return &fanout{handlers: out}
}
