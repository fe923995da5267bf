// Package log provides the logging abstraction used by livespace components.
//
// Components accept a Logger and never import zerolog directly. The
// zerolog adapter is the production implementation; NoopLogger is used
// in tests and wherever a caller passes nil.
//
// # Usage
//
//	logger := log.New(os.Stderr, "info", "console")
//	runner := logger.With(log.Component("runner"), log.Activity(uuid))
//	runner.Info("activity started", log.Duration("took", d))
//
// # Version
//
// Current version: 1.1.0
// Minimum compatible version: 1.1.0
//
// See version.go for version constants that can be used programmatically.
package log
