package models

import "time"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRetry      Status = "RETRY"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetry:
		return Status(s), true
	}
	return "", false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces the command state machine. Terminal states have
// no outgoing transitions; Retry is the only state that loops back.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusRetry
	case StatusRetry:
		return next == StatusProcessing || next == StatusFailed
	default:
		return false
	}
}

type CommandEnvelope struct {
	EventID    string                 `json:"event_id"`
	Family     Family                 `json:"family"`
	Type       CommandType            `json:"type"`
	Subject    string                 `json:"subject"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Status     Status                 `json:"status"`
	RetryCount int                    `json:"retry_count"`
	MaxRetries int                    `json:"max_retries"`
	Message    string                 `json:"message,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	// NotBefore is set by the retry path: the envelope must not be
	// re-dispatched before this instant.
	NotBefore time.Time `json:"not_before,omitempty"`
	Metadata  Metadata  `json:"metadata"`
}

type Metadata struct {
	TraceID     string    `json:"trace_id,omitempty"`
	SourceTopic string    `json:"source_topic,omitempty"`
	DLQReason   string    `json:"dlq_reason,omitempty"`
	DLQAt       time.Time `json:"dlq_at,omitempty"`
}

// PartitionKey keeps every attempt of the same logical command on the same
// partition so per-key ordering holds across redeliveries.
func (e CommandEnvelope) PartitionKey() string {
	if e.Subject != "" {
		return e.Subject
	}
	return e.EventID
}
