// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// SlogBridge adapts the global zerolog logger to slog.Handler so libraries
// that speak slog (sutureslog in particular) emit through zerolog.
type SlogBridge struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	prefix string
}

// NewSlogBridge wraps the current global logger.
func NewSlogBridge() *SlogBridge {
	return &SlogBridge{logger: Logger()}
}

// NewSlogLogger returns an *slog.Logger backed by the global zerolog logger.
func NewSlogLogger() *slog.Logger {
	return slog.New(NewSlogBridge())
}

// Enabled reports whether level would be emitted.
func (b *SlogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return b.logger.GetLevel() <= slogLevel(level)
}

// Handle converts a record into a zerolog event.
//
//nolint:gocritic // slog.Record is passed by value per the slog.Handler contract
func (b *SlogBridge) Handle(_ context.Context, record slog.Record) error {
	event := b.logger.WithLevel(slogLevel(record.Level))
	for _, attr := range b.attrs {
		event = appendAttr(event, b.prefix, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		event = appendAttr(event, b.prefix, attr)
		return true
	})
	event.Msg(record.Message)
	return nil
}

// WithAttrs returns a handler with attrs appended.
func (b *SlogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *b
	next.attrs = append(append([]slog.Attr{}, b.attrs...), attrs...)
	return &next
}

// WithGroup returns a handler prefixing subsequent attribute keys.
func (b *SlogBridge) WithGroup(name string) slog.Handler {
	next := *b
	if name != "" {
		next.prefix = b.prefix + name + "."
	}
	return &next
}

func appendAttr(event *zerolog.Event, prefix string, attr slog.Attr) *zerolog.Event {
	return event.Interface(prefix+attr.Key, attr.Value.Any())
}

func slogLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
