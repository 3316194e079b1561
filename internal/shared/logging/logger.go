package logging

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger defines a minimal, printf-style logging contract.
//
// Packages depend on this interface rather than on zerolog directly so tests
// can pass Nop() or a buffer-backed logger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Options configures the process-wide base logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is "console" (default) or "json".
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

var (
	baseMu sync.RWMutex
	base   = newBase(Options{})
)

// Configure replaces the base logger used by every component logger.
func Configure(opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format != "" && format != "console" && format != "json" {
		return fmt.Errorf("unsupported log format %q", opts.Format)
	}
	logger := newBase(opts).Level(level)

	baseMu.Lock()
	base = logger
	baseMu.Unlock()
	return nil
}

// ParseLevel maps a configured level name onto a zerolog level.
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return level, nil
}

func newBase(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if !strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime, NoColor: !isTerminal(out)}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func current() zerolog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// componentLogger resolves the base logger on every call so loggers created
// before Configure pick up the configured level and format.
type componentLogger struct {
	component string
	fixed     *zerolog.Logger
}

// NewComponentLogger returns the application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: strings.TrimSpace(component)}
}

// New wraps an explicit zerolog logger, mostly for tests that capture output.
func New(zl zerolog.Logger, component string) Logger {
	return &componentLogger{component: strings.TrimSpace(component), fixed: &zl}
}

func (l *componentLogger) logger() zerolog.Logger {
	zl := current()
	if l.fixed != nil {
		zl = *l.fixed
	}
	if l.component == "" {
		return zl
	}
	return zl.With().Str("component", l.component).Logger()
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.emit(zerolog.DebugLevel, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.emit(zerolog.InfoLevel, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.emit(zerolog.WarnLevel, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.emit(zerolog.ErrorLevel, format, args...)
}

func (l *componentLogger) emit(level zerolog.Level, format string, args ...any) {
	zl := l.logger()
	event := zl.WithLevel(level)
	if event == nil {
		return
	}
	event.Msg(Sanitize(fmt.Sprintf(format, args...)))
}
