package events

import "time"

type EnqueueRequest struct {
	Family  string                 `json:"family" binding:"required"`
	Type    string                 `json:"type" binding:"required"`
	Subject string                 `json:"subject" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

type EnqueueResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

type CompleteRequest struct {
	Message string `json:"message"`
}

type CleanupResponse struct {
	Swept     int64     `json:"swept"`
	Timestamp time.Time `json:"timestamp"`
}
