package logging

import (
	"distbank/internal/utils/ioUtils"
	"fmt"
	"sync"
)

// LogLevel describes the level of importance of a log message.
type LogLevel uint8

const (
	// INFO is the lowest logging level. Used for protocol traces and general information.
	INFO LogLevel = 1
	// WARN is important information that may indicate a problem, e.g. a dropped datagram.
	WARN LogLevel = 2
	// ERR is the highest logging level. Used for failures that affect liveness.
	ERR LogLevel = 3
	// SILENT disables all output.
	SILENT LogLevel = 4
)

func (l LogLevel) String() string {
	switch l {
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERR:
		return "ERROR"
	default:
		return "SILENT"
	}
}

// ParseLogLevel converts a level name as found in configuration files into a [LogLevel]. Unknown names map to INFO.
func ParseLogLevel(name string) LogLevel {
	switch name {
	case "warn", "WARN":
		return WARN
	case "error", "ERROR":
		return ERR
	case "silent", "SILENT":
		return SILENT
	default:
		return INFO
	}
}

// Logger writes leveled messages to an [ioutils.IOStream] and/or a [LogFile].
//
// Loggers derived through [Logger.WithPostfix] or [Logger.WithLogLevel] share the same output lock, so lines from different components never interleave.
type Logger struct {
	out      ioutils.IOStream
	outMu    *sync.Mutex
	file     *LogFile
	name     string
	logLevel LogLevel
	fileOnly bool
}

// NewLogger constructs and returns a new logger instance.
//   - out: stream on which lines are printed, unless fileOnly is set
//   - file: optional file sink, may be nil
//   - name: prefix identifying the component
func NewLogger(out ioutils.IOStream, file *LogFile, name string, fileOnly bool) *Logger {
	return &Logger{
		out:      out,
		outMu:    &sync.Mutex{},
		file:     file,
		name:     name,
		fileOnly: fileOnly,
		logLevel: INFO,
	}
}

// NewStdLogger returns a new instance of a logger that logs to the standard output.
func NewStdLogger(name string) *Logger {
	return NewLogger(ioutils.NewStdStream(), nil, name, false)
}

// WithLogLevel returns a new logger with the same configuration, but with a filter on the log level: only messages of higher or equal level will be logged.
func (l *Logger) WithLogLevel(level LogLevel) *Logger {
	c := *l
	c.logLevel = level
	return &c
}

// WithPostfix returns a new logger with the same configuration, but with the given postfix appended to the name.
func (l *Logger) WithPostfix(postfix string) *Logger {
	c := *l
	c.name = fmt.Sprintf("%s|%s", l.name, postfix)
	return &c
}

// Name returns the full name of the logger, postfixes included.
func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) log(level LogLevel, args ...interface{}) {
	if level < l.logLevel {
		return
	}
	s := fmt.Sprintf("[%s|%s] %s\n", level, l.name, fmt.Sprint(args...))
	if l.file != nil {
		l.file.Print(s)
	}
	if !l.fileOnly && l.out != nil {
		l.outMu.Lock()
		l.out.Print(s)
		l.outMu.Unlock()
	}
}

// Info logs a message with the INFO level.
func (l *Logger) Info(args ...interface{}) {
	l.log(INFO, args...)
}

// Infof logs a formatted message with the INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

// Warn logs a message with the WARN level.
func (l *Logger) Warn(args ...interface{}) {
	l.log(WARN, args...)
}

// Warnf logs a formatted message with the WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...))
}

// Error logs a message with the ERR level.
func (l *Logger) Error(args ...interface{}) {
	l.log(ERR, args...)
}

// Errorf logs a formatted message with the ERR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERR, fmt.Sprintf(format, args...))
}
