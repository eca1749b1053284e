// Package logx provides structured logging for the workspace fleet tooling.
//
// Every component creates a named logger (logx.NewLogger("provision")) and the
// name becomes the operation-context prefix on each line, so CLI output reads
// as "[provision] ..." on stderr. Debug output is gated by the DEBUG
// environment variable and optional per-component filtering.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes prefixed, leveled log lines to stderr (and the shared log
// file, when one is configured via InitializeLogFile).
type Logger struct {
	component string
	logger    *log.Logger
}

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled    bool
	Components map[string]bool // which components to enable debug for (nil = all)
}

//nolint:gochecknoglobals // Intentional process-wide logging state
var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	logFile   *os.File
	logFileMu sync.Mutex
	teeOutput bool
)

func init() { //nolint:gochecknoinits // Required for env var initialization
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	// DEBUG_COMPONENTS=provision,update limits debug output to named components.
	if components := os.Getenv("DEBUG_COMPONENTS"); components != "" {
		debugConfig.Components = make(map[string]bool)
		for _, c := range strings.Split(components, ",") {
			debugConfig.Components[strings.TrimSpace(c)] = true
		}
	}
}

// NewLogger creates a logger whose output is prefixed with the component name.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // stderr keeps stdout clean for rendered artifacts
	}
}

// SetDebug enables or disables debug logging globally.
func SetDebug(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

func debugEnabledFor(component string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Components == nil {
		return true
	}
	return debugConfig.Components[component]
}

// InitializeLogFile mirrors all log output to a file under dir. When tee is
// false, plain Info output still goes to stderr; the file only adds a durable
// copy for post-mortem inspection of batch runs.
func InitializeLogFile(dir string, tee bool) error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("codespaces-%s.log", time.Now().UTC().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = f
	teeOutput = tee
	return nil
}

// CloseLogFile closes the shared log file, if one was opened.
func CloseLogFile() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("[%s] [%s] %s: %s", timestamp, l.component, level, message)
	l.logger.Println(logLine)

	logFileMu.Lock()
	if logFile != nil {
		fmt.Fprintln(logFile, logLine)
	}
	logFileMu.Unlock()
}

func (l *Logger) Debug(format string, args ...any) {
	if !debugEnabledFor(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Writer returns an io.Writer that logs each write as an Info line. Useful for
// piping external tool output through the component prefix.
func (l *Logger) Writer() io.Writer {
	return &logWriter{logger: l}
}

type logWriter struct {
	logger *Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Info("%s", line)
		}
	}
	return len(p), nil
}
