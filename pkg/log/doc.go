// Package log provides forq's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by go.uber.org/zap; the
// facade exists so components depend on a stable, minimal surface and so
// loggers are always injected rather than pulled from a global.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatText),
//	)
//	l = l.With(log.Component("worker"), log.Str("queue", "mail"))
//	l.Info("pool started", log.Int("concurrency", 8))
package log
