// Package logger writes process logs to the console and a dated file.
//
// Two front ends share the same destinations: printf-style helpers (Info,
// Error) for operational messages, and a slog.Logger for structured records
// carrying run and request identifiers from a context.
package logger

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	instance *Logger
	once     sync.Once
)

// Logger handles dual logging to console and file
type Logger struct {
	infoLogger  *log.Logger
	errorLogger *log.Logger
	structured  *slog.Logger
	logFile     *os.File
	mu          sync.Mutex
}

// Init initializes the global logger instance. When jsonOutput is set the
// structured logger emits JSON records, otherwise key=value text.
func Init(logDir string, jsonOutput bool) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLogger(logDir, jsonOutput)
		if initErr == nil {
			slog.SetDefault(instance.structured)
		}
	})
	return initErr
}

func newLogger(logDir string, jsonOutput bool) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("assimilate-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(filepath.Join(logDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	infoWriter := io.MultiWriter(os.Stdout, logFile)
	errorWriter := io.MultiWriter(os.Stderr, logFile)

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(infoWriter, opts)
	} else {
		handler = slog.NewTextHandler(infoWriter, opts)
	}

	return &Logger{
		infoLogger:  log.New(infoWriter, "", log.LstdFlags),
		errorLogger: log.New(errorWriter, "ERROR: ", log.LstdFlags),
		structured:  slog.New(handler),
		logFile:     logFile,
	}, nil
}

// Close closes the log file
func Close() error {
	if instance != nil && instance.logFile != nil {
		return instance.logFile.Close()
	}
	return nil
}

// Info logs an informational message
func Info(format string, v ...any) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.infoLogger.Printf(format, v...)
	}
}

// Error logs an error message
func Error(format string, v ...any) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.errorLogger.Printf(format, v...)
	}
}

// Println logs a simple message
func Println(v ...any) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.infoLogger.Println(v...)
	}
}

// Printf logs a formatted message
func Printf(format string, v ...any) {
	Info(format, v...)
}
