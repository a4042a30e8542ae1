package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mescon/Cadence/internal/logger"
)

// isBusy reports whether err is SQLite's "database is locked" condition.
func isBusy(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") || strings.Contains(errStr, "database is locked")
}

// backoff sleeps for the attempt's delay unless ctx ends first.
func backoff(ctx context.Context, attempt int) error {
	// Exponential backoff: 100ms, 200ms, 400ms, 800ms
	delay := RetryDelay * time.Duration(1<<attempt)
	logger.Debugf("Database busy, retrying in %v (attempt %d/%d)", delay, attempt+1, MaxRetries)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExecWithRetry executes a SQL statement, retrying on SQLITE_BUSY.
func ExecWithRetry(ctx context.Context, db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	var err error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		var result sql.Result
		result, err = db.ExecContext(ctx, query, args...)
		if err == nil {
			return result, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		if attempt < MaxRetries-1 {
			if waitErr := backoff(ctx, attempt); waitErr != nil {
				return nil, waitErr
			}
		}
	}

	return nil, fmt.Errorf("database busy after %d retries: %w", MaxRetries, err)
}

// QueryWithRetry executes a query, retrying on SQLITE_BUSY.
func QueryWithRetry(ctx context.Context, db *sql.DB, query string, args ...interface{}) (*sql.Rows, error) {
	var err error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		var rows *sql.Rows
		rows, err = db.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		if attempt < MaxRetries-1 {
			if waitErr := backoff(ctx, attempt); waitErr != nil {
				return nil, waitErr
			}
		}
	}

	return nil, fmt.Errorf("database busy after %d retries: %w", MaxRetries, err)
}
