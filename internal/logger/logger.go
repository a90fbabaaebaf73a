package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

// LogFile is created inside the configured log directory.
const LogFile = "segviz.log"

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "info", "":
		return LevelInfo, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("invalid log level %q: must be 'info', 'warning' or 'error'", s)
}

// Logger provides leveled logging to stderr and, optionally, a log file.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	level      Level
	file       *os.File
}

// New creates a Logger writing to out. When logDir is set, entries are also
// appended to logDir/segviz.log.
func New(out io.Writer, level Level, logDir string) (*Logger, error) {
	l := &Logger{level: level}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(logDir, LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		out = io.MultiWriter(out, f)
	}

	flags := log.Ldate | log.Ltime
	l.infoLog = log.New(out, "INFO    ", flags)
	l.warningLog = log.New(out, "WARNING ", flags)
	l.errorLog = log.New(out, "ERROR   ", flags)
	return l, nil
}

func (l *Logger) Info(format string, v ...interface{}) {
	if l.level <= LevelInfo {
		l.infoLog.Printf(format, v...)
	}
}

func (l *Logger) Warning(format string, v ...interface{}) {
	if l.level <= LevelWarning {
		l.warningLog.Printf(format, v...)
	}
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.errorLog.Printf(format, v...)
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
