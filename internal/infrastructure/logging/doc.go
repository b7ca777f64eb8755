// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components take a *Logger and derive a tagged child with Component, so
// hub, store and observer lines can be filtered apart:
//
//	logger := logging.NewDefault()
//	hubLog := logger.Component("hub")
//	hubLog.Info("channel opened", zap.String("channel", id))
package logging
