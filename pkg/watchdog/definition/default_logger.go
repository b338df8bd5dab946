package definition

import (
	"fmt"
	"log"
	"os"
)

const (
	calldepth = 2
	info      = "INFO"
	warn      = "WARN"
	errorl    = "ERROR"
	debug     = "DEBUG"
	fatal     = "FATAL"
)

// NewDefaultLogger creates the logger used when the caller does not
// provide its own implementation of types.Logger.
func NewDefaultLogger(prefix string) *DefaultLogger {
	return &DefaultLogger{
		Logger: log.New(os.Stderr, prefix+" ", log.LstdFlags),
		debug:  false,
	}
}

// level prefixes message with a bracketed log level.
func level(prefix, message string) string {
	return fmt.Sprintf("[%s]: %s", prefix, message)
}

// DefaultLogger is a small leveled wrapper around the standard library
// logger, with debug output gated behind ToggleDebug.
type DefaultLogger struct {
	*log.Logger
	debug bool
}

func (l *DefaultLogger) Info(v ...interface{}) {
	_ = l.Output(calldepth, level(info, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(info, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Warn(v ...interface{}) {
	_ = l.Output(calldepth, level(warn, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(warn, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Error(v ...interface{}) {
	_ = l.Output(calldepth, level(errorl, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(errorl, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		_ = l.Output(calldepth, level(debug, fmt.Sprint(v...)))
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		_ = l.Output(calldepth, level(debug, fmt.Sprintf(format, v...)))
	}
}

// ToggleDebug enables or disables Debug/Debugf output, returning the new
// state.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}

func (l *DefaultLogger) Fatal(v ...interface{}) {
	_ = l.Output(calldepth, level(fatal, fmt.Sprint(v...)))
	os.Exit(1)
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(fatal, fmt.Sprintf(format, v...)))
	os.Exit(1)
}
