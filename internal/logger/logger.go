// Package logger writes leveled, module-tagged lines to a shared sink.
//
//	2026/10/19 12:00:00.000000 [INFO] [Pipeline] Stream abc opened
//
// A module may carry its own threshold, so a noisy stage can be turned up
// to DEBUG without flooding the rest of the output.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel is a message severity. Higher is more severe.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT
)

type levelStyle struct {
	name  string
	color string
}

var styles = [...]levelStyle{
	DEBUG:  {"DEBUG", "\033[36m"},
	INFO:   {"INFO", "\033[32m"},
	WARN:   {"WARN", "\033[33m"},
	ERROR:  {"ERROR", "\033[31m"},
	SILENT: {"SILENT", ""},
}

const colorReset = "\033[0m"

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(styles) {
		return "UNKNOWN"
	}
	return styles[l].name
}

// ParseLevel accepts level names in any case, plus "warning" and "none".
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	}
	return INFO, fmt.Errorf("invalid log level: %s", s)
}

// Logger filters by level and writes through a stdlib log.Logger so that
// timestamps and write serialization come for free.
type Logger struct {
	mu        sync.RWMutex
	threshold LogLevel
	modules   map[string]LogLevel
	color     bool
	out       *log.Logger
}

// New returns a Logger writing to output, or stderr when output is nil.
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		threshold: level,
		color:     useColor,
		out:       log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.threshold = level
	l.mu.Unlock()
}

func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.threshold
}

// SetModuleLevel overrides the threshold for one module tag.
func (l *Logger) SetModuleLevel(module string, level LogLevel) {
	l.mu.Lock()
	if l.modules == nil {
		l.modules = make(map[string]LogLevel)
	}
	l.modules[module] = level
	l.mu.Unlock()
}

// Enabled reports whether a message for module at level would be written.
func (l *Logger) Enabled(level LogLevel, module string) bool {
	if level >= SILENT {
		return false
	}
	l.mu.RLock()
	threshold, ok := l.modules[module]
	if !ok {
		threshold = l.threshold
	}
	l.mu.RUnlock()
	return level >= threshold
}

func (l *Logger) write(level LogLevel, module, format string, args []any) {
	if !l.Enabled(level, module) {
		return
	}

	var b strings.Builder
	if l.color {
		b.WriteString(styles[level].color)
	}
	b.WriteByte('[')
	b.WriteString(styles[level].name)
	b.WriteByte(']')
	if l.color {
		b.WriteString(colorReset)
	}
	if module != "" {
		b.WriteString(" [")
		b.WriteString(module)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	fmt.Fprintf(&b, format, args...)
	l.out.Print(b.String())
}

func (l *Logger) Debug(module, format string, args ...any) { l.write(DEBUG, module, format, args) }
func (l *Logger) Info(module, format string, args ...any)  { l.write(INFO, module, format, args) }
func (l *Logger) Warn(module, format string, args ...any)  { l.write(WARN, module, format, args) }
func (l *Logger) Error(module, format string, args ...any) { l.write(ERROR, module, format, args) }

// ModuleLogger binds a module tag. With a nil Logger it resolves the
// global logger on every call, so package-level values survive Init.
type ModuleLogger struct {
	Module string
	Logger *Logger
}

func For(module string) ModuleLogger {
	return ModuleLogger{Module: module}
}

func (m ModuleLogger) sink() *Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return current()
}

func (m ModuleLogger) Debugf(format string, args ...any) { m.sink().Debug(m.Module, format, args...) }
func (m ModuleLogger) Infof(format string, args ...any)  { m.sink().Info(m.Module, format, args...) }
func (m ModuleLogger) Warnf(format string, args ...any)  { m.sink().Warn(m.Module, format, args...) }
func (m ModuleLogger) Errorf(format string, args ...any) { m.sink().Error(m.Module, format, args...) }

var (
	globalMu sync.RWMutex
	global   = New(INFO, os.Stderr, false)
)

// Init swaps the global logger. The last call wins.
func Init(level LogLevel, output io.Writer, useColor bool) {
	l := New(level, output, useColor)
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// InitModules applies per-module overrides given as module name to level
// name, as read from configuration.
func InitModules(levels map[string]string) error {
	l := current()
	for module, name := range levels {
		level, err := ParseLevel(name)
		if err != nil {
			return fmt.Errorf("module %s: %w", module, err)
		}
		l.SetModuleLevel(module, level)
	}
	return nil
}

func current() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

func SetLevel(level LogLevel) { current().SetLevel(level) }
func GetLevel() LogLevel      { return current().GetLevel() }

func Debug(module, format string, args ...any) { current().Debug(module, format, args...) }
func Info(module, format string, args ...any)  { current().Info(module, format, args...) }
func Warn(module, format string, args ...any)  { current().Warn(module, format, args...) }
func Error(module, format string, args ...any) { current().Error(module, format, args...) }
