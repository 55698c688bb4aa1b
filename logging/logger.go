// Package logging provides a small structured logging facade used throughout
// oauthd. It is designed around uber-go/zap's sugared logger but keeps callers
// decoupled from the concrete implementation.
//
// Loggers travel on the context so request-scoped fields accumulate as an
// operation descends through the engines:
//
//	ctx = logging.With(ctx, logger.Named("grant").With("clientID", req.ClientID))
//	...
//	logging.Debugw(ctx, "redeeming authorization code", "code", mask(code))
package logging

import "context"

// Logger provides an abstract logging interface designed around uber-go/zap's
// sugared logger, but is intended to provide interop with other libraries.
type Logger interface {
	Debug(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Debugf(msg string, args ...interface{})
	Info(args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Infof(msg string, args ...interface{})
	Warn(args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Warnf(msg string, args ...interface{})
	Error(args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Errorf(msg string, args ...interface{})

	// Named creates a child logger with the given name.
	Named(name string) Logger

	// With creates a child logger and attaches structured context to it.
	With(field string, value interface{}) Logger
}

type ctxkey struct{}

// With attaches a logger to the context.
//
// This can be used to create logging scopes like so:
//
//	for _, c := range clients {
//	  ctx := With(ctx, logger.Named(c.ID))
//	  processClient(ctx, c)
//	}
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, logger)
}

// FromContext returns the scoped logger, or a no-op logger if none has been
// attached. Callers never need to nil-check the result.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxkey{}).(Logger); ok {
		return l
	}
	return nopLogger{}
}

func Debug(ctx context.Context, msg string) {
	FromContext(ctx).Debug(msg)
}

func Debugw(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Debugw(msg, fields...)
}

func Debugf(ctx context.Context, msg string, args ...interface{}) {
	FromContext(ctx).Debugf(msg, args...)
}

func Info(ctx context.Context, msg string) {
	FromContext(ctx).Info(msg)
}

func Infow(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Infow(msg, fields...)
}

func Infof(ctx context.Context, msg string, args ...interface{}) {
	FromContext(ctx).Infof(msg, args...)
}

func Warn(ctx context.Context, msg string) {
	FromContext(ctx).Warn(msg)
}

func Warnw(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Warnw(msg, fields...)
}

func Warnf(ctx context.Context, msg string, args ...interface{}) {
	FromContext(ctx).Warnf(msg, args...)
}

func Error(ctx context.Context, msg string) {
	FromContext(ctx).Error(msg)
}

func Errorw(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Errorw(msg, fields...)
}

func Errorf(ctx context.Context, msg string, args ...interface{}) {
	FromContext(ctx).Errorf(msg, args...)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(...interface{})           {}
func (nopLogger) Debugw(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{})  {}
func (nopLogger) Info(...interface{})            {}
func (nopLogger) Infow(string, ...interface{})   {}
func (nopLogger) Infof(string, ...interface{})   {}
func (nopLogger) Warn(...interface{})            {}
func (nopLogger) Warnw(string, ...interface{})   {}
func (nopLogger) Warnf(string, ...interface{})   {}
func (nopLogger) Error(...interface{})           {}
func (nopLogger) Errorw(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{})  {}
func (n nopLogger) Named(string) Logger          { return n }
func (n nopLogger) With(string, interface{}) Logger { return n }

// NewNopLogger returns a logger that discards all output. Useful in tests.
func NewNopLogger() Logger {
	return nopLogger{}
}
