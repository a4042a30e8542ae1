// Package logger is the process-wide leveled logger. Output goes to stdout
// and, once Init is called, to a size-rotated file. Entries are also fanned
// out to subscribers so the browser console panel can stream them.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity level of a log message.
type LogLevel string

const (
	Debug LogLevel = "DEBUG"
	Info  LogLevel = "INFO"
	Warn  LogLevel = "WARN"
	Error LogLevel = "ERROR"
)

// LogFileName is the name of the rotated log file inside the log directory.
const LogFileName = "cadence.log"

// levelPriority returns the numeric priority of a log level (higher = more severe)
func levelPriority(level LogLevel) int {
	switch level {
	case Debug:
		return 0
	case Info:
		return 1
	case Warn:
		return 2
	case Error:
		return 3
	default:
		return 1
	}
}

// ParseLevel maps a config string to a LogLevel. Unknown values report false.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, true
	case "info":
		return Info, true
	case "warn", "warning":
		return Warn, true
	case "error":
		return Error, true
	}
	return Info, false
}

// LogEntry represents a single log message with metadata for streaming to clients.
type LogEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Component string   `json:"component,omitempty"`
	Message   string   `json:"message"`
}

var (
	mu         sync.Mutex
	minLevel   = Info
	listeners  []chan LogEntry
	fileLogger *lumberjack.Logger
)

func init() {
	// Stdout only until Init() is called with a log directory
	log.SetOutput(os.Stdout)
	log.SetFlags(0)
}

// SetLevel sets the minimum log level. Unknown values fall back to info.
func SetLevel(level string) {
	lvl, _ := ParseLevel(level)
	mu.Lock()
	minLevel = lvl
	mu.Unlock()
	log.Printf("Log level set to: %s", lvl)
}

// Init adds a rotating log file in logDir next to stdout.
func Init(logDir string) error {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fileLogger != nil {
		_ = fileLogger.Close()
	}
	fileLogger = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFileName),
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
	return nil
}

// Close flushes and detaches the log file. Output returns to stdout only.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileLogger == nil {
		return nil
	}
	err := fileLogger.Close()
	fileLogger = nil
	log.SetOutput(os.Stdout)
	return err
}

// GetLogDir returns the directory where log files are stored
func GetLogDir() string {
	mu.Lock()
	defer mu.Unlock()
	if fileLogger != nil {
		return filepath.Dir(fileLogger.Filename)
	}
	return ""
}

// Subscribe returns a channel that receives all log entries for real-time streaming.
func Subscribe() chan LogEntry {
	mu.Lock()
	defer mu.Unlock()
	ch := make(chan LogEntry, 100)
	listeners = append(listeners, ch)
	return ch
}

// Unsubscribe removes a log listener channel and closes it.
func Unsubscribe(ch chan LogEntry) {
	mu.Lock()
	defer mu.Unlock()
	for i, l := range listeners {
		if l == ch {
			listeners = append(listeners[:i], listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func broadcastLocked(entry LogEntry) {
	for _, ch := range listeners {
		select {
		case ch <- entry:
		default:
			// Slow subscriber; drop rather than stall the caller
		}
	}
}

func write(level LogLevel, component, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if levelPriority(level) < levelPriority(minLevel) {
		return
	}

	msg := fmt.Sprintf(format, v...)
	timestamp := time.Now().Format(time.RFC3339)
	if component != "" {
		log.Printf("%s [%s] %s: %s", timestamp, level, component, msg)
	} else {
		log.Printf("%s [%s] %s", timestamp, level, msg)
	}

	broadcastLocked(LogEntry{
		Timestamp: timestamp,
		Level:     level,
		Component: component,
		Message:   msg,
	})
}

// Log writes a formatted message at the specified level to stdout, file, and subscribers.
func Log(level LogLevel, format string, v ...interface{}) {
	write(level, "", format, v...)
}

// Infof logs a formatted message at INFO level.
func Infof(format string, v ...interface{}) {
	write(Info, "", format, v...)
}

// Errorf logs a formatted message at ERROR level.
func Errorf(format string, v ...interface{}) {
	write(Error, "", format, v...)
}

// Debugf logs a formatted message at DEBUG level.
func Debugf(format string, v ...interface{}) {
	write(Debug, "", format, v...)
}

// Warnf logs a formatted message at WARN level.
func Warnf(format string, v ...interface{}) {
	write(Warn, "", format, v...)
}

// Component tags every message with the subsystem that produced it.
type Component string

// For returns a Component logger.
func For(name string) Component {
	return Component(name)
}

func (c Component) Debugf(format string, v ...interface{}) { write(Debug, string(c), format, v...) }
func (c Component) Infof(format string, v ...interface{})  { write(Info, string(c), format, v...) }
func (c Component) Warnf(format string, v ...interface{})  { write(Warn, string(c), format, v...) }
func (c Component) Errorf(format string, v ...interface{}) { write(Error, string(c), format, v...) }
