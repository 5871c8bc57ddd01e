package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/metrics"
	"conveyor/pkg/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, record *TrackingRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	query := `
		INSERT INTO command_events (id, event_id, subject, family, command_type, status, message, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.EventID, record.Subject, record.Family, record.CommandType,
		record.Status, record.Message, record.RetryCount, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// Unique violation on a column other than event_id.
			return pkgerrors.ErrConflict.WithCause(err)
		}
		return fmt.Errorf("failed to create tracking record: %w", err)
	}

	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, eventID string, next models.Status, message string, expected ...models.Status) error {
	if len(expected) == 0 {
		return pkgerrors.ErrValidation.WithMessage("at least one expected status is required for a status transition")
	}

	var completedAt interface{}
	if next.IsTerminal() {
		completedAt = time.Now()
	}

	// completed_at mirrors terminality: set on Completed/Failed, cleared
	// when a replay moves a terminal record back to Pending.
	query := `
		UPDATE command_events
		SET status = $1, message = $2, updated_at = NOW(), completed_at = $3
		WHERE event_id = $4 AND status = ANY($5)
	`

	res, err := s.db.ExecContext(ctx, query,
		next, message, completedAt, eventID, pq.Array(statusStrings(expected)),
	)
	if err != nil {
		metrics.IncTrackingUpdate(string(next), "error")
		return fmt.Errorf("failed to update tracking status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		metrics.IncTrackingUpdate(string(next), "rejected")
		return pkgerrors.ErrNotFound.WithMessage(
			fmt.Sprintf("no tracking record for event %s in status %v", eventID, expected))
	}

	metrics.IncTrackingUpdate(string(next), "applied")
	return nil
}

func (s *PostgresStore) UpdateRetry(ctx context.Context, eventID string, retryCount int, message string) error {
	query := `
		UPDATE command_events
		SET status = $1, retry_count = $2, message = $3, updated_at = NOW()
		WHERE event_id = $4 AND status = $5
	`

	res, err := s.db.ExecContext(ctx, query,
		models.StatusRetry, retryCount, message, eventID, models.StatusProcessing,
	)
	if err != nil {
		metrics.IncTrackingUpdate(string(models.StatusRetry), "error")
		return fmt.Errorf("failed to update retry count: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		metrics.IncTrackingUpdate(string(models.StatusRetry), "rejected")
		return pkgerrors.ErrNotFound.WithMessage(
			fmt.Sprintf("no tracking record for event %s in status %s", eventID, models.StatusProcessing))
	}

	metrics.IncTrackingUpdate(string(models.StatusRetry), "applied")
	return nil
}

const recordColumns = `id, event_id, subject, family, command_type, status, message, retry_count, created_at, updated_at, completed_at`

func (s *PostgresStore) FindByEventID(ctx context.Context, eventID string) (*TrackingRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM command_events WHERE event_id = $1`, recordColumns)

	row := s.db.QueryRowContext(ctx, query, eventID)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("no tracking record for event %s", eventID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracking record: %w", err)
	}

	return record, nil
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status models.Status, limit int) ([]TrackingRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM command_events
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, recordColumns)

	rows, err := s.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records by status: %w", err)
	}
	defer rows.Close()

	return scanRecords(ctx, rows)
}

func (s *PostgresStore) FindBySubject(ctx context.Context, subject string, limit int) ([]TrackingRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM command_events
		WHERE subject = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recordColumns)

	rows, err := s.db.QueryContext(ctx, query, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records by subject: %w", err)
	}
	defer rows.Close()

	return scanRecords(ctx, rows)
}

func (s *PostgresStore) FindRecent(ctx context.Context, window time.Duration, limit int) ([]TrackingRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM command_events
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recordColumns)

	rows, err := s.db.QueryContext(ctx, query, time.Now().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent records: %w", err)
	}
	defer rows.Close()

	return scanRecords(ctx, rows)
}

func (s *PostgresStore) Statistics(ctx context.Context) (*Statistics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'PROCESSING'),
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE status = 'RETRY')
		FROM command_events
	`

	var stats Statistics
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Total, &stats.Pending, &stats.Processing,
		&stats.Completed, &stats.Failed, &stats.Retry,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total) * 100
	}

	return &stats, nil
}

func (s *PostgresStore) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	// A single statement so a record cannot be swept and concurrently
	// completed by a late worker: whichever UPDATE wins the row lock, the
	// other sees a terminal status and matches nothing. Staleness is keyed
	// on created_at, so a command bouncing through Retry still gets swept
	// once its total age passes the cutoff.
	query := `
		UPDATE command_events
		SET status = $1, message = $2, updated_at = NOW(), completed_at = NOW()
		WHERE created_at < $3 AND status = ANY($4)
	`

	nonTerminal := pq.Array([]string{
		string(models.StatusPending),
		string(models.StatusProcessing),
		string(models.StatusRetry),
	})

	res, err := s.db.ExecContext(ctx, query, models.StatusFailed, message, cutoff, nonTerminal)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale records: %w", err)
	}

	return res.RowsAffected()
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*TrackingRecord, error) {
	var record TrackingRecord
	var message sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&record.ID, &record.EventID, &record.Subject, &record.Family, &record.CommandType,
		&record.Status, &message, &record.RetryCount,
		&record.CreatedAt, &record.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Message = message.String
	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}

	return &record, nil
}

func scanRecords(ctx context.Context, rows *sql.Rows) ([]TrackingRecord, error) {
	var records []TrackingRecord
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracking record: %w", err)
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}
