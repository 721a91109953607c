package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

// QueueEnqueue inserts a work item and notifies listeners in the same
// transaction, so the NOTIFY fires only once the row is committed and
// visible to pickers.
func (d *DB) QueueEnqueue(ctx context.Context, table string, payload []byte) (int64, error) {
	table, err := queueTable(table)
	if err != nil {
		return 0, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin enqueue tx")
	}
	defer tx.Rollback()

	var id int64
	stmt := `INSERT INTO ` + table + ` (payload) VALUES ($1) RETURNING id`
	if err := tx.QueryRowContext(ctx, stmt, payload).Scan(&id); err != nil {
		return 0, errors.Wrapf(err, "failed to enqueue into %s", table)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, store.QueueChannel(table), strconv.FormatInt(id, 10)); err != nil {
		return 0, errors.Wrap(err, "failed to notify queue channel")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit enqueue")
	}
	return id, nil
}

const queueRowColumns = "id, payload, created_at, picked_at, started_at, completed_at, attempt_count, next_run_at, processed, last_error"

// QueuePick atomically leases one ready row. Concurrent pickers skip each
// other's locked rows, so pick never blocks on contention. Returns (nil, nil)
// when no row is ready.
func (d *DB) QueuePick(ctx context.Context, table string, lease time.Duration, maxAttempts int) (*store.QueueRow, error) {
	table, err := queueTable(table)
	if err != nil {
		return nil, err
	}

	stmt := `
		UPDATE ` + table + ` SET picked_at = NOW(), started_at = NOW(), attempt_count = attempt_count + 1
		WHERE id = (
			SELECT id FROM ` + table + `
			WHERE processed = FALSE
				AND next_run_at <= NOW()
				AND (picked_at IS NULL OR picked_at < NOW() - ($1 * INTERVAL '1 second'))
				AND attempt_count < $2
			ORDER BY next_run_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + queueRowColumns

	var row store.QueueRow
	err = d.db.QueryRowContext(ctx, stmt, lease.Seconds(), maxAttempts).Scan(
		&row.ID,
		&row.Payload,
		&row.CreatedAt,
		&row.PickedAt,
		&row.StartedAt,
		&row.CompletedAt,
		&row.AttemptCount,
		&row.NextRunAt,
		&row.Processed,
		&row.LastError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to pick from %s", table)
	}
	return &row, nil
}

// QueueComplete marks a row processed and clears retry noise from earlier
// attempts. Returns the row timestamps for duration metrics.
func (d *DB) QueueComplete(ctx context.Context, table string, id int64) (*store.QueueTimings, error) {
	table, err := queueTable(table)
	if err != nil {
		return nil, err
	}

	stmt := `
		UPDATE ` + table + ` SET processed = TRUE, completed_at = NOW(), picked_at = NULL, last_error = NULL
		WHERE id = $1
		RETURNING created_at, started_at, completed_at
	`

	var timings store.QueueTimings
	var startedAt, completedAt sql.NullTime
	err = d.db.QueryRowContext(ctx, stmt, id).Scan(&timings.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to complete %s row %d", table, id)
	}
	if startedAt.Valid {
		timings.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		timings.CompletedAt = completedAt.Time
	}
	return &timings, nil
}

// QueueFail schedules a retry, releasing the lease and recording the error.
func (d *DB) QueueFail(ctx context.Context, table string, id int64, lastError string, retryAt time.Time) error {
	table, err := queueTable(table)
	if err != nil {
		return err
	}

	stmt := `UPDATE ` + table + ` SET picked_at = NULL, next_run_at = $2, last_error = $3 WHERE id = $1`
	if _, err := d.db.ExecContext(ctx, stmt, id, retryAt, lastError); err != nil {
		return errors.Wrapf(err, "failed to fail %s row %d", table, id)
	}
	return nil
}

// QueueMarkDead dead-letters a row. The caller includes the "[DEAD]" prefix
// in lastError.
func (d *DB) QueueMarkDead(ctx context.Context, table string, id int64, lastError string) error {
	table, err := queueTable(table)
	if err != nil {
		return err
	}

	stmt := `UPDATE ` + table + ` SET processed = TRUE, completed_at = NOW(), picked_at = NULL, last_error = $2 WHERE id = $1`
	if _, err := d.db.ExecContext(ctx, stmt, id, lastError); err != nil {
		return errors.Wrapf(err, "failed to dead-letter %s row %d", table, id)
	}
	return nil
}

// QueueRecoverStale reclaims rows whose lease expired without completion.
// Rows with attempts left become ready again; rows that crashed on their
// final attempt are dead-lettered.
func (d *DB) QueueRecoverStale(ctx context.Context, table string, lease time.Duration, maxAttempts int) (requeued, dead int64, err error) {
	table, err = queueTable(table)
	if err != nil {
		return 0, 0, err
	}

	requeueStmt := `
		UPDATE ` + table + ` SET picked_at = NULL, next_run_at = NOW(),
			last_error = COALESCE(last_error || ' ', '') || '[STALE] lease expired'
		WHERE processed = FALSE
			AND picked_at IS NOT NULL
			AND picked_at < NOW() - ($1 * INTERVAL '1 second')
			AND attempt_count < $2
	`
	res, err := d.db.ExecContext(ctx, requeueStmt, lease.Seconds(), maxAttempts)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to requeue stale rows in %s", table)
	}
	requeued, _ = res.RowsAffected()

	deadStmt := `
		UPDATE ` + table + ` SET processed = TRUE, completed_at = NOW(), picked_at = NULL,
			last_error = '[DEAD] crashed on final attempt: ' || COALESCE(last_error, '')
		WHERE processed = FALSE
			AND picked_at IS NOT NULL
			AND picked_at < NOW() - ($1 * INTERVAL '1 second')
			AND attempt_count >= $2
	`
	res, err = d.db.ExecContext(ctx, deadStmt, lease.Seconds(), maxAttempts)
	if err != nil {
		return requeued, 0, errors.Wrapf(err, "failed to dead-letter stale rows in %s", table)
	}
	dead, _ = res.RowsAffected()

	return requeued, dead, nil
}

// QueuePendingCount counts unprocessed rows excluding those currently leased.
func (d *DB) QueuePendingCount(ctx context.Context, table string, lease time.Duration) (int64, error) {
	table, err := queueTable(table)
	if err != nil {
		return 0, err
	}

	query := `
		SELECT COUNT(*) FROM ` + table + `
		WHERE processed = FALSE
			AND (picked_at IS NULL OR picked_at < NOW() - ($1 * INTERVAL '1 second'))
	`

	var count int64
	if err := d.db.QueryRowContext(ctx, query, lease.Seconds()).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "failed to count pending in %s", table)
	}
	return count, nil
}

func (d *DB) QueueDashboardStats(ctx context.Context, table string, lease time.Duration) (*store.QueueDashboardStats, error) {
	table, err := queueTable(table)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE processed = FALSE AND (picked_at IS NULL OR picked_at < NOW() - ($1 * INTERVAL '1 second'))) AS pending,
			COUNT(*) FILTER (WHERE processed = FALSE AND picked_at IS NOT NULL AND picked_at >= NOW() - ($1 * INTERVAL '1 second')) AS processing,
			COUNT(*) FILTER (WHERE processed = TRUE AND completed_at >= date_trunc('day', NOW()) AND (last_error IS NULL OR last_error NOT LIKE '[DEAD]%')) AS completed_today,
			COUNT(*) FILTER (WHERE processed = TRUE AND last_error LIKE '[DEAD]%') AS dead,
			COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(created_at) FILTER (WHERE processed = FALSE AND picked_at IS NULL)), 0) AS oldest_pending_seconds
		FROM ` + table

	var stats store.QueueDashboardStats
	var oldestSeconds float64
	err = d.db.QueryRowContext(ctx, query, lease.Seconds()).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.CompletedToday,
		&stats.Dead,
		&oldestSeconds,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dashboard stats for %s", table)
	}
	stats.OldestPendingAge = time.Duration(oldestSeconds * float64(time.Second))
	return &stats, nil
}

// QueueCleanup removes completed rows older than the retention window.
func (d *DB) QueueCleanup(ctx context.Context, table string, retention time.Duration) (int64, error) {
	table, err := queueTable(table)
	if err != nil {
		return 0, err
	}

	stmt := `DELETE FROM ` + table + ` WHERE processed = TRUE AND completed_at < NOW() - ($1 * INTERVAL '1 second')`
	res, err := d.db.ExecContext(ctx, stmt, retention.Seconds())
	if err != nil {
		return 0, errors.Wrapf(err, "failed to clean up %s", table)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}
