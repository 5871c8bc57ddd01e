package tracking

import (
	"time"

	"conveyor/pkg/models"
)

// TrackingRecord is the durable ledger row for one logical command,
// keyed by event ID. Republished retry attempts update the same row.
type TrackingRecord struct {
	ID          string        `json:"id" db:"id"`
	EventID     string        `json:"event_id" db:"event_id"`
	Subject     string        `json:"subject" db:"subject"`
	Family      string        `json:"family" db:"family"`
	CommandType string        `json:"command_type" db:"command_type"`
	Status      models.Status `json:"status" db:"status"`
	Message     string        `json:"message,omitempty" db:"message"`
	RetryCount  int           `json:"retry_count" db:"retry_count"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

type Statistics struct {
	Total       int64   `json:"total"`
	Pending     int64   `json:"pending"`
	Processing  int64   `json:"processing"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Retry       int64   `json:"retry"`
	SuccessRate float64 `json:"success_rate"`
}

func NewRecordFromEnvelope(env models.CommandEnvelope) *TrackingRecord {
	now := time.Now()
	return &TrackingRecord{
		EventID:     env.EventID,
		Subject:     env.Subject,
		Family:      string(env.Family),
		CommandType: string(env.Type),
		Status:      models.StatusPending,
		RetryCount:  env.RetryCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
