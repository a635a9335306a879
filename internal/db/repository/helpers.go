// Package repository implements domain repository interfaces using SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"opsgate/internal/domain"
)

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &domain.ConflictError{Message: "resource already exists"}
	}
	return err
}

// retryable reports whether the error is a transient SQLite contention
// error worth retrying.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// withRetry runs fn with exponential backoff on transient SQLite lock
// errors. The write pool is capped at one connection, so contention is
// rare but possible when the busy_timeout window is exhausted.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// marshalJSON encodes v for a TEXT column, with a fallback literal so a
// marshal failure can never produce an unreadable row.
func marshalJSON(v interface{}, empty string) string {
	if v == nil {
		return empty
	}
	data, err := json.Marshal(v)
	if err != nil {
		return empty
	}
	return string(data)
}

func unmarshalParams(s string) map[string]interface{} {
	if s == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
