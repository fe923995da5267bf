package log

// NoopLogger discards everything.
type NoopLogger struct{}

func NewNoopLogger() NoopLogger { return NoopLogger{} }

func (NoopLogger) Debug(string, ...Field) {}
func (NoopLogger) Info(string, ...Field) {}
func (NoopLogger) Warn(string, ...Field) {}
func (NoopLogger) Error(string, ...Field) {}
func (n NoopLogger) With(...Field) Logger { return n }

// OrNoop returns l, or a NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
