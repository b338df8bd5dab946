package types

// Logger is the leveled logging interface used throughout the watchdog.
// A caller that already has a structured logger of its own can adapt it
// to this interface instead of taking the DefaultLogger.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	ToggleDebug(value bool) bool
}
