package integration

import (
	"github.com/google/uuid"

	"conveyor/internal/logger"
	"conveyor/internal/tracking"
	"conveyor/pkg/models"
)

const (
	containerStartupTimeout = 60
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestEnvelope(family models.Family, cmdType models.CommandType, subject string, payload map[string]interface{}) models.CommandEnvelope {
	env := models.NewCommandEnvelopeBuilder().
		WithEventID(uuid.New().String()).
		WithCommand(family, cmdType).
		WithSubject(subject).
		WithPayload(payload).
		WithMaxRetries(3).
		Build()
	return *env
}

func createTestRecord(family models.Family, cmdType models.CommandType, subject string) *tracking.TrackingRecord {
	env := createTestEnvelope(family, cmdType, subject, nil)
	return tracking.NewRecordFromEnvelope(env)
}
