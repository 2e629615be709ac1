// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package database

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/streamsentry/internal/logging"
)

const (
	// txStatementTimeout bounds every statement inside a lifecycle
	// transaction.
	txStatementTimeout = "10s"

	// serializationRetries is how many times a serialization conflict is
	// retried before surfacing.
	serializationRetries = 3
)

// retryBackoff returns the sleep before retry attempt n (0-based).
func retryBackoff(attempt int) time.Duration {
	return time.Duration(50<<attempt) * time.Millisecond
}

// WithSerializableTx runs fn inside a SERIALIZABLE transaction with the
// statement timeout applied. Serialization conflicts (SQLSTATE 40001) are
// retried up to three times with 50/100/200ms backoff; every other error
// rolls back and surfaces immediately.
func (d *DB) WithSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error

	for attempt := 0; attempt <= serializationRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
			logging.Debug().
				Str("component", "database").
				Int("attempt", attempt).
				Msg("retrying serializable transaction")
		}

		err := d.runSerializable(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsSerializationFailure(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("serialization retries exhausted: %w", lastErr)
}

func (d *DB) runSerializable(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// Rollback after commit is a harmless no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = '"+txStatementTimeout+"'"); err != nil {
		return fmt.Errorf("set statement_timeout: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AdvisoryLockTx takes a transaction-scoped advisory lock; it releases at
// commit or rollback. Concurrent transactions contending on the same key
// queue here instead of double-inserting.
func AdvisoryLockTx(ctx context.Context, tx pgx.Tx, key int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
		return fmt.Errorf("advisory lock %d: %w", key, err)
	}
	return nil
}

// AdvisoryKey derives the 64-bit advisory lock key for a (server user, rule
// type) pair. FNV-64a over the joined strings; the int64 conversion is the
// lock keyspace Postgres expects.
func AdvisoryKey(serverUserID string, ruleType string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(serverUserID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(ruleType))
	return int64(h.Sum64())
}
