package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	// No logger attached: a usable no-op comes back.
	l := FromContext(ctx)
	assert.NotNil(t, l)
	l.Info("does not panic")

	attached := NewNopLogger()
	ctx = With(ctx, attached)
	assert.Equal(t, attached, FromContext(ctx))
}

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.With("clientID", "c1").Infow("token issued", "scope", "account")

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "token issued", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "c1", fields["clientID"])
	assert.Equal(t, "account", fields["scope"])
}

func TestContextHelpers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := With(context.Background(), NewZapLogger(zap.New(core)))

	Debugw(ctx, "looking up client", "clientID", "c1")
	Warn(ctx, "secret mismatch")

	assert.Equal(t, 2, logs.Len())
}
