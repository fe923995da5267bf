package alert

import (
	"sync"

	"github.com/bft-labs/livespace/pkg/log"
)

// Severity ranks how urgently an operator should look at an alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the lower-case severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Sink receives operator-facing alerts. Report must not block for long:
// it is called from reconciliation and teardown paths.
type Sink interface {
	Report(sev Severity, activityID, message string, cause error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(sev Severity, activityID, message string, cause error)

// Report calls f.
func (f SinkFunc) Report(sev Severity, activityID, message string, cause error) {
	f(sev, activityID, message, cause)
}

// Nop discards alerts.
type Nop struct{}

// Report does nothing.
func (Nop) Report(Severity, string, string, error) {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// LogSink writes alerts to a Logger at a level matching the severity.
type LogSink struct {
	logger log.Logger
}

// NewLogSink creates a sink that logs every alert.
func NewLogSink(logger log.Logger) *LogSink {
	return &LogSink{logger: log.OrNoop(logger).With(log.Component("alert"))}
}

// Report logs the alert.
func (s *LogSink) Report(sev Severity, activityID, message string, cause error) {
	fields := []log.Field{log.String("severity", sev.String())}
	if activityID != "" {
		fields = append(fields, log.Activity(activityID))
	}
	if cause != nil {
		fields = append(fields, log.Err(cause))
	}
	switch sev {
	case SeverityInfo:
		s.logger.Info(message, fields...)
	case SeverityWarning:
		s.logger.Warn(message, fields...)
	default:
		s.logger.Error(message, fields...)
	}
}

// Multi fans an alert out to every sink in order.
type Multi []Sink

// Report forwards to each non-nil sink.
func (m Multi) Report(sev Severity, activityID, message string, cause error) {
	for _, s := range m {
		if s != nil {
			s.Report(sev, activityID, message, cause)
		}
	}
}

// Alert is one recorded report.
type Alert struct {
	Severity   Severity
	ActivityID string
	Message    string
	Cause      error
}

// Recorder keeps every alert in memory. Tests use it to count reports.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

// Report appends the alert.
func (r *Recorder) Report(sev Severity, activityID, message string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Alert{Severity: sev, ActivityID: activityID, Message: message, Cause: cause})
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Len returns the number of recorded alerts.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}
