package tracking

import (
	"context"
	"time"

	"conveyor/pkg/models"
)

// Store is the tracking ledger. All status mutations are compare-and-set:
// the update applies only when the row's current status is one of the
// expected prior statuses, so concurrent redeliveries cannot resurrect a
// terminal record.
type Store interface {
	// Create inserts a Pending record for the envelope. Inserting an
	// event ID that already exists is a no-op, not an error.
	Create(ctx context.Context, record *TrackingRecord) error

	// UpdateStatus moves the record to next iff its current status is in
	// expected. Returns pkg/errors.ErrNotFound when no row matched (either
	// the event ID is unknown or the CAS guard rejected the transition).
	UpdateStatus(ctx context.Context, eventID string, next models.Status, message string, expected ...models.Status) error

	// UpdateRetry bumps the retry count and moves the record to Retry,
	// guarded on the Processing status.
	UpdateRetry(ctx context.Context, eventID string, retryCount int, message string) error

	FindByEventID(ctx context.Context, eventID string) (*TrackingRecord, error)
	FindByStatus(ctx context.Context, status models.Status, limit int) ([]TrackingRecord, error)
	FindBySubject(ctx context.Context, subject string, limit int) ([]TrackingRecord, error)
	FindRecent(ctx context.Context, window time.Duration, limit int) ([]TrackingRecord, error)
	Statistics(ctx context.Context) (*Statistics, error)

	// FailStale marks every non-terminal record older than cutoff as
	// Failed in a single statement and returns how many rows it swept.
	FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error)
}
