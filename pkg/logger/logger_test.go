package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetLogger(t *testing.T) {
	t.Helper()
	log = nil
	once = sync.Once{}
	t.Cleanup(func() {
		log = nil
		once = sync.Once{}
	})
}

func TestInitAndContextLogging(t *testing.T) {
	resetLogger(t)
	Init("development")
	require.NotNil(t, GetLogger())

	ctx := context.WithValue(context.Background(), "request_id", "req-1")
	assert.NotNil(t, WithContext(ctx))

	Info(ctx, "info")
	Debug(ctx, "debug")
	Warn(ctx, "warn")
	Error(ctx, "error")
	LogRequest(ctx, "GET", "/health", 200, 10*time.Millisecond, "127.0.0.1")
	Sync()
}

func TestGetLogger_NopBeforeInit(t *testing.T) {
	resetLogger(t)
	assert.NotNil(t, GetLogger())
	assert.NotPanics(t, func() {
		Info(context.Background(), "before init")
		SetLevel("debug")
		Sync()
	})
}

func TestWithContext_AddsRequestID(t *testing.T) {
	resetLogger(t)
	core, logs := observer.New(zapcore.DebugLevel)
	log = zap.New(core)

	Info(context.WithValue(context.Background(), RequestIDKey, "typed-req-id"), "typed")
	Info(context.WithValue(context.Background(), "request_id", "gin-req-id"), "gin")
	var noCtx context.Context
	Info(noCtx, "no ctx")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "typed-req-id", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "gin-req-id", entries[1].ContextMap()["request_id"])
	assert.NotContains(t, entries[2].ContextMap(), "request_id")
}

func TestInit_ProductionAndSetLevel(t *testing.T) {
	resetLogger(t)

	Init("production")
	require.NotNil(t, GetLogger())

	SetLevel("debug")
	assert.Equal(t, zapcore.DebugLevel, atom.Level())
	SetLevel("not-a-level")
	assert.Equal(t, zapcore.DebugLevel, atom.Level())
}

func TestInit_PanicWhenLoggerBuildFails(t *testing.T) {
	resetLogger(t)
	origBuild := buildLogger
	t.Cleanup(func() { buildLogger = origBuild })

	buildLogger = func(zap.Config) (*zap.Logger, error) {
		return nil, errors.New("build failed")
	}

	assert.Panics(t, func() { Init("production") })
}
