package deadletter

import (
	"time"

	"conveyor/pkg/models"
)

// DeadLetter is the archived form of a command that exhausted its retries
// or failed fatally. The full envelope is preserved so the command can be
// inspected and replayed.
type DeadLetter struct {
	ID         string                 `json:"id" bson:"_id,omitempty"`
	EventID    string                 `json:"event_id" bson:"event_id"`
	Family     string                 `json:"family" bson:"family"`
	Type       string                 `json:"type" bson:"type"`
	Subject    string                 `json:"subject" bson:"subject"`
	Reason     string                 `json:"reason" bson:"reason"`
	RetryCount int                    `json:"retry_count" bson:"retry_count"`
	Envelope   models.CommandEnvelope `json:"envelope" bson:"envelope"`
	ArchivedAt time.Time              `json:"archived_at" bson:"archived_at"`
	ReplayedAt *time.Time             `json:"replayed_at,omitempty" bson:"replayed_at,omitempty"`
}

type ListQuery struct {
	Family string
	// Filter is an optional CEL predicate evaluated against each archived
	// envelope after the family match.
	Filter string
	Limit  int
}
