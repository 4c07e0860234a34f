// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package kimlog is Kimberlite's structured logging wrapper, built the way
// go-ethereum's own log package wraps log/slog: a small Logger interface
// with leveled methods taking alternating key-value pairs, plus a
// process-wide root logger configured once at startup.
package kimlog

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the structured logging surface used throughout the core.
// Packages take a Logger (or use Root()) rather than calling slog
// directly, so tests can inject a buffering handler.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

// LevelTrace is finer-grained than slog.LevelDebug; Kimberlite maps it onto
// a negative slog level the way go-ethereum's log package does.
const LevelTrace = slog.Level(-8)

type logger struct {
	inner *slog.Logger
}

// New wraps an *slog.Logger as a Logger.
func New(inner *slog.Logger) Logger {
	return &logger{inner: inner}
}

// NewText builds a Logger writing human-readable text to w at the given
// minimum level.
func NewText(w *os.File, level slog.Level) Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return New(slog.New(h))
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(slog.LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(slog.LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(slog.LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.log(slog.LevelError, msg, ctx) }

// Crit logs at the highest level. It does not exit the process — unlike
// go-ethereum's Crit, Kimberlite never calls os.Exit from inside a logger;
// callers that consider a condition fatal use kimassert instead.
func (l *logger) Crit(msg string, ctx ...any) { l.log(slog.LevelError+4, msg, ctx) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

func (l *logger) log(level slog.Level, msg string, ctx []any) {
	l.inner.Log(context.Background(), level, msg, ctx...)
}

var root Logger = NewText(os.Stderr, slog.LevelInfo)

// Root returns the process-wide root logger.
func Root() Logger { return root }

// SetRoot replaces the process-wide root logger. Called once at startup by
// cmd/kimberlited after wiring a rotation handler when --log.file is given.
func SetRoot(l Logger) { root = l }
