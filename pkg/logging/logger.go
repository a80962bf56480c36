package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// DefaultLogDir is tried first by NewFileLogger
const DefaultLogDir = "/var/log/phoenix-oracle"

// Logger is a leveled structured logger backed by zerolog
type Logger struct {
	zl         zerolog.Logger
	level      Level
	jsonFormat bool
	output     io.Writer
	fields     map[string]interface{}
	logFile    *fileSink
	component  string
}

// fileSink is shared by a file logger and its children so rotation swaps
// the file under all of them
type fileSink struct {
	mu sync.Mutex
	f  *os.File
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Write(p)
}

// NewLogger creates a logger writing to stdout
func NewLogger(level Level, jsonFormat bool) *Logger {
	l := &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		output:     os.Stdout,
		fields:     make(map[string]interface{}),
	}
	l.rebuild()
	return l
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{
		zl:     zerolog.Nop(),
		level:  FATAL + 1,
		output: io.Discard,
		fields: make(map[string]interface{}),
	}
}

// NewFileLogger creates a logger that writes to <log dir>/<component>/<subcomponent>.log
// and stdout. Falls back to ./logs/<component>/ if the default directory is not writable.
func NewFileLogger(component, subComponent string, level Level, jsonFormat bool) (*Logger, error) {
	name := component
	if subComponent != "" {
		name = component + "/" + subComponent
	}
	return openFileLogger(GetLogPath(component, subComponent), name, level, jsonFormat)
}

func openFileLogger(logPath, component string, level Level, jsonFormat bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(logPath), err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	sink := &fileSink{f: logFile}
	l := &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		output:     io.MultiWriter(sink, os.Stdout),
		fields:     map[string]interface{}{"component": component},
		logFile:    sink,
		component:  component,
	}
	l.rebuild()

	l.Info(fmt.Sprintf("Logger initialized: %s -> %s", component, logPath))
	return l, nil
}

// rebuild recreates the zerolog logger after the output or fields change
func (l *Logger) rebuild() {
	out := l.output
	if !l.jsonFormat {
		out = zerolog.ConsoleWriter{Out: l.output, TimeFormat: time.RFC3339, NoColor: l.logFile != nil}
	}
	l.zl = zerolog.New(out).Level(l.level.zerolog()).With().Timestamp().Fields(l.fields).Logger()
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.rebuild()
}

// Zerolog exposes the underlying logger for middleware
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	var ev *zerolog.Event
	switch level {
	case DEBUG:
		ev = l.zl.Debug()
	case INFO:
		ev = l.zl.Info()
	case WARN:
		ev = l.zl.Warn()
	case ERROR:
		ev = l.zl.Error()
	case FATAL:
		// zerolog exits the process after writing
		ev = l.zl.Fatal()
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, firstFields(fields))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, firstFields(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, firstFields(fields))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ERROR, message, firstFields(fields))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.log(FATAL, message, firstFields(fields))
}

// WithField returns a child logger carrying key=value on every entry
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newFields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value
	child := &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		output:     l.output,
		fields:     newFields,
		logFile:    l.logFile,
		component:  l.component,
	}
	if l.output == io.Discard {
		child.zl = zerolog.Nop()
		return child
	}
	child.rebuild()
	return child
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch level {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	case "FATAL", "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	if l.logFile != nil {
		l.Info("Logger closing")
		l.logFile.mu.Lock()
		defer l.logFile.mu.Unlock()
		return l.logFile.f.Close()
	}
	return nil
}

// RotateIfNeeded rotates the log file if it exceeds maxSize bytes. The old
// file is kept with a timestamp suffix. Returns true if a rotation happened.
func (l *Logger) RotateIfNeeded(maxSize int64) (bool, error) {
	if l.logFile == nil {
		return false, nil
	}

	l.logFile.mu.Lock()
	info, err := l.logFile.f.Stat()
	if err != nil {
		l.logFile.mu.Unlock()
		return false, err
	}
	if info.Size() <= maxSize {
		l.logFile.mu.Unlock()
		return false, nil
	}

	oldPath := l.logFile.f.Name()
	backupPath := oldPath + "." + time.Now().Format("20060102-150405")
	l.logFile.f.Close()
	if err := os.Rename(oldPath, backupPath); err != nil {
		l.logFile.mu.Unlock()
		return false, err
	}
	newFile, err := os.OpenFile(oldPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.logFile.mu.Unlock()
		return false, err
	}
	l.logFile.f = newFile
	l.logFile.mu.Unlock()

	l.Info(fmt.Sprintf("Log rotated: %s -> %s", oldPath, backupPath))
	return true, nil
}

// isWritable checks if directory is writable
func isWritable(path string) bool {
	if err := os.MkdirAll(path, 0755); err != nil {
		return false
	}
	testFile := filepath.Join(path, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(testFile)
	return true
}

// GetLogPath returns the expected log path for a component
func GetLogPath(component, subComponent string) string {
	baseDir := DefaultLogDir
	if !isWritable(baseDir) {
		baseDir = "./logs"
	}

	logFileName := component + ".log"
	if subComponent != "" {
		logFileName = subComponent + ".log"
	}
	return filepath.Join(baseDir, component, logFileName)
}
