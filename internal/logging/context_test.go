// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewCorrelationID(t *testing.T) {
	t.Parallel()

	a := NewCorrelationID()
	b := NewCorrelationID()

	if len(a) != 8 {
		t.Errorf("expected 8-char id, got %q", a)
	}
	if a == b {
		t.Error("expected distinct ids")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithCorrelationID(context.Background(), "abcd1234")
	if got := CorrelationID(ctx); got != "abcd1234" {
		t.Errorf("CorrelationID = %q, want abcd1234", got)
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("expected empty id on bare context, got %q", got)
	}
}

func TestCtxEnrichesWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	defer SetLogger(prev)

	SetLogger(NewTestLogger(&buf))

	ctx := WithCorrelationID(context.Background(), "feed1234")
	l := Ctx(ctx)
	l.Info().Msg("observed")

	if !strings.Contains(buf.String(), `"correlation_id":"feed1234"`) {
		t.Errorf("expected correlation_id field, got: %s", buf.String())
	}
}

func TestCtxPrefersStoredLogger(t *testing.T) {
	var buf bytes.Buffer

	stored := NewTestLogger(&buf).With().Str("component", "push").Logger()
	ctx := WithLogger(context.Background(), stored)

	l := Ctx(ctx)
	l.Info().Msg("from stored")

	if !strings.Contains(buf.String(), `"component":"push"`) {
		t.Errorf("expected stored logger fields, got: %s", buf.String())
	}
}
