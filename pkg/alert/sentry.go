package alert

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// SentrySink forwards alerts at or above a minimum severity to Sentry.
type SentrySink struct {
	hub *sentry.Hub
	min Severity
}

// NewSentrySink creates a sink with its own Sentry client so that
// several sinks can coexist in one process.
func NewSentrySink(opts sentry.ClientOptions, min Severity) (*SentrySink, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &SentrySink{hub: sentry.NewHub(client, sentry.NewScope()), min: min}, nil
}

// Report captures the alert as an exception when a cause is present,
// otherwise as a message.
func (s *SentrySink) Report(sev Severity, activityID, message string, cause error) {
	if sev < s.min {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(sev))
		scope.SetFingerprint([]string{"{{ default }}", "severity: " + sev.String(), message})
		if activityID != "" {
			scope.SetTag("activity", activityID)
		}
		scope.SetExtra("message", message)
		if cause != nil {
			s.hub.CaptureException(cause)
			return
		}
		s.hub.CaptureMessage(message)
	})
}

// Flush waits for buffered events to be delivered.
func (s *SentrySink) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

func sentryLevel(sev Severity) sentry.Level {
	switch sev {
	case SeverityInfo:
		return sentry.LevelInfo
	case SeverityWarning:
		return sentry.LevelWarning
	case SeverityError:
		return sentry.LevelError
	default:
		return sentry.LevelFatal
	}
}
