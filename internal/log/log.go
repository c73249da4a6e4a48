package log

import (
	"fmt"
	"io"
	goLog "log"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

// Stderr, passed as the file to New, logs to standard error. Command line
// clients use it to keep stdout for their output.
const Stderr = "stderr"

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Backend is a leveled go-logging backend writing to stdout, a file, or
// nowhere.
type Backend struct {
	logging.LeveledBackend
	sync.RWMutex

	backend logging.LeveledBackend
	w       io.WriteCloser

	file    string
	level   string
	disable bool
}

// New initializes a logging backend. An empty file logs to stdout.
func New(file, level string, disable bool) (*Backend, error) {
	b := &Backend{file: file, level: level, disable: disable}
	if err := b.newBackend(); err != nil {
		return nil, err
	}
	return b, nil
}

// Log implements logging.Backend.
func (b *Backend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b.backend.Log(level, calldepth, record)
}

// GetLevel implements logging.Leveled.
func (b *Backend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b.backend.GetLevel(module)
}

// SetLevel implements logging.Leveled.
func (b *Backend) SetLevel(level logging.Level, module string) {
	b.RLock()
	defer b.RUnlock()
	b.backend.SetLevel(level, module)
}

// IsEnabledFor implements logging.Leveled.
func (b *Backend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b.backend.IsEnabledFor(level, module)
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// GetGoLogger returns a standard library logger for module that logs every
// line at level. It exists for net/http's ErrorLog.
func (b *Backend) GetGoLogger(module, level string) *goLog.Logger {
	lvl, err := levelFromString(level)
	if err != nil {
		panic("log: GetGoLogger(): " + err.Error())
	}
	return goLog.New(&logWriter{m: b.GetLogger(module), lvl: lvl}, "", 0)
}

// Rotate reopens the log file. Call it after an external rotation (SIGHUP).
func (b *Backend) Rotate() error {
	b.Lock()
	defer b.Unlock()
	if err := b.w.Close(); err != nil {
		return err
	}
	return b.newBackend()
}

// Close closes the log file, if any. Loggers keep working but write nowhere.
func (b *Backend) Close() error {
	b.Lock()
	defer b.Unlock()
	err := b.w.Close()
	b.w = nopCloser{io.Discard}
	b.backend = logging.AddModuleLevel(logging.NewLogBackend(b.w, "", 0))
	return err
}

func (b *Backend) newBackend() error {
	lvl, err := levelFromString(b.level)
	if err != nil {
		return err
	}

	switch {
	case b.disable:
		b.w = nopCloser{io.Discard}
	case b.file == "":
		b.w = nopCloser{os.Stdout}
	case b.file == Stderr:
		b.w = nopCloser{os.Stderr}
	default:
		f, err := os.OpenFile(b.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("log: failed to open log file: %w", err)
		}
		b.w = f
	}

	base := logging.NewLogBackend(b.w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	b.backend = logging.AddModuleLevel(formatted)
	b.backend.SetLevel(lvl, "")
	return nil
}

var (
	discardOnce    sync.Once
	discardBackend logging.LeveledBackend
)

// Discard returns a logger for module that drops everything. Library code
// uses it when the caller passes a nil logger.
func Discard(module string) *logging.Logger {
	discardOnce.Do(func() {
		discardBackend = logging.AddModuleLevel(logging.NewLogBackend(io.Discard, "", 0))
		discardBackend.SetLevel(logging.CRITICAL, "")
	})
	l := logging.MustGetLogger(module)
	l.SetBackend(discardBackend)
	return l
}

func levelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: %q", l)
	}
}

// ValidLevel reports whether l names a log level.
func ValidLevel(l string) bool {
	_, err := levelFromString(l)
	return err == nil
}

type logWriter struct {
	m   *logging.Logger
	lvl logging.Level
}

func (w *logWriter) Write(p []byte) (int, error) {
	s := strings.TrimSpace(string(p))
	if s == "" {
		return len(p), nil
	}
	switch w.lvl {
	case logging.ERROR:
		w.m.Error(s)
	case logging.WARNING:
		w.m.Warning(s)
	case logging.NOTICE:
		w.m.Notice(s)
	case logging.INFO:
		w.m.Info(s)
	default:
		w.m.Debug(s)
	}
	return len(p), nil
}
