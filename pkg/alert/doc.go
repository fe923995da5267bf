// Package alert is the operator-visibility channel for livespace.
//
// Every rollback failure, shutdown failure and terminal goal error is
// reported through a Sink in addition to being logged or returned.
// LogSink writes to the structured log, SentrySink forwards to Sentry
// and Multi fans out to several sinks.
package alert
