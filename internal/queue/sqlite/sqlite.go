// Package sqlite is the durable queue.Store used on real terminals. Records
// survive process restarts; each Enqueue is its own committed transaction so
// a crash immediately after a domain action cannot lose the record.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/queue"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_records (
	id            TEXT PRIMARY KEY,
	tx_type       TEXT NOT NULL,
	payload       BLOB NOT NULL,
	created_at    INTEGER NOT NULL,
	status        TEXT NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	next_retry_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_records(status);
CREATE INDEX IF NOT EXISTS idx_queue_ready ON queue_records(status, next_retry_at, created_at);
`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the queue database under dataDir. WAL mode keeps
// UI reads cheap while the dispatcher writes; a single connection avoids
// SQLITE_BUSY since the dispatcher is the only writer.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "syncqueue.db"))
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// OpenWithClock is Open with an injected clock, for tests.
func OpenWithClock(dataDir string, now func() time.Time) (*Store, error) {
	s, err := Open(dataDir)
	if err != nil {
		return nil, err
	}
	s.now = now
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Enqueue(ctx context.Context, txType domain.TransactionType, payload []byte) (*domain.QueueRecord, error) {
	if !txType.Valid() || len(payload) == 0 {
		return nil, queue.ErrInvalidRecord
	}

	now := s.now().UTC()
	record := &domain.QueueRecord{
		ID:          uuid.NewString(),
		Type:        txType,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now,
		Status:      domain.QueuePending,
		NextRetryAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_records (id, tx_type, payload, created_at, status, attempts, last_error, next_retry_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?)
	`, record.ID, string(record.Type), record.Payload, record.CreatedAt.UnixMicro(), string(record.Status), record.NextRetryAt.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return record, nil
}

func (s *Store) ListReady(ctx context.Context, now time.Time) ([]domain.QueueRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_type, payload, created_at, status, attempts, last_error, next_retry_at
		FROM queue_records
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY created_at ASC, id ASC
	`, string(domain.QueuePending), now.UTC().UnixMicro())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.QueueRecord, 0, 16)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (domain.QueueRecord, error) {
	var record domain.QueueRecord
	var txType, status string
	var createdAt, nextRetryAt int64
	if err := rows.Scan(&record.ID, &txType, &record.Payload, &createdAt, &status, &record.Attempts, &record.LastError, &nextRetryAt); err != nil {
		return domain.QueueRecord{}, err
	}
	record.Type = domain.TransactionType(txType)
	record.Status = domain.QueueStatus(status)
	record.CreatedAt = time.UnixMicro(createdAt).UTC()
	record.NextRetryAt = time.UnixMicro(nextRetryAt).UTC()
	return record, nil
}

func (s *Store) MarkSyncing(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, string(domain.QueueSyncing), string(domain.QueuePending))
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE queue_records SET status = ?
		WHERE status = ? AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(ids)) {
		return queue.ErrInvalidRecord
	}
	return tx.Commit()
}

func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.updateFromSyncing(ctx, id, `
		UPDATE queue_records SET status = ?, last_error = ''
		WHERE id = ? AND status = ?
	`, string(domain.QueueCompleted), id, string(domain.QueueSyncing))
}

func (s *Store) MarkFailedRetry(ctx context.Context, id string, reason string, nextRetryAt time.Time) error {
	return s.updateFromSyncing(ctx, id, `
		UPDATE queue_records
		SET status = ?, attempts = attempts + 1, last_error = ?, next_retry_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.QueuePending), reason, nextRetryAt.UTC().UnixMicro(), id, string(domain.QueueSyncing))
}

func (s *Store) MarkFailedTerminal(ctx context.Context, id string, reason string) error {
	return s.updateFromSyncing(ctx, id, `
		UPDATE queue_records
		SET status = ?, attempts = attempts + 1, last_error = ?
		WHERE id = ? AND status = ?
	`, string(domain.QueueFailed), reason, id, string(domain.QueueSyncing))
}

func (s *Store) updateFromSyncing(ctx context.Context, id string, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM queue_records WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return queue.ErrNotFound
		}
		return queue.ErrInvalidRecord
	}
	return nil
}

func (s *Store) ResetSyncing(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_records SET status = ? WHERE status = ?
	`, string(domain.QueuePending), string(domain.QueueSyncing))
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, domain.QueuePending)
}

func (s *Store) FailedCount(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, domain.QueueFailed)
}

func (s *Store) countByStatus(ctx context.Context, status domain.QueueStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM queue_records WHERE status = ?
	`, string(status)).Scan(&count)
	return count, err
}

func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queue_records WHERE status = ? AND created_at < ?
	`, string(domain.QueueCompleted), olderThan.UTC().UnixMicro())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}
