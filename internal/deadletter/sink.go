package deadletter

import (
	"context"
	"time"

	"conveyor/internal/broker"
	"conveyor/internal/logger"
	"conveyor/pkg/metrics"
	"conveyor/pkg/models"
)

// Sink is the terminal destination for commands that will never succeed.
// It stamps the envelope with the dead-letter reason, publishes it on the
// family's DLQ topic for external consumers, and archives it durably.
type Sink struct {
	producer   broker.Producer
	repository Repository
	logger     logger.Logger
}

func NewSink(producer broker.Producer, repository Repository, log logger.Logger) *Sink {
	return &Sink{
		producer:   producer,
		repository: repository,
		logger:     log,
	}
}

func (s *Sink) DeadLetter(ctx context.Context, env models.CommandEnvelope, reason string) error {
	now := time.Now()
	env.Status = models.StatusFailed
	env.Metadata.DLQReason = reason
	env.Metadata.DLQAt = now
	env.Metadata.SourceTopic = models.Topic(env.Family)

	topic := models.DLQTopic(env.Family)
	if err := s.producer.Publish(ctx, topic, env); err != nil {
		// Archive regardless: losing the DLQ topic message is recoverable
		// via replay, losing the archive is not.
		s.logger.ErrorwCtx(ctx, "Failed to publish to DLQ topic",
			"error", err,
			"topic", topic,
		)
	}

	letter := &DeadLetter{
		EventID:    env.EventID,
		Family:     string(env.Family),
		Type:       string(env.Type),
		Subject:    env.Subject,
		Reason:     reason,
		RetryCount: env.RetryCount,
		Envelope:   env,
		ArchivedAt: now,
	}

	if err := s.repository.Archive(ctx, letter); err != nil {
		return err
	}

	metrics.IncDLQCommand(string(env.Family), reason)
	s.logger.WarnwCtx(ctx, "Command dead-lettered",
		"family", env.Family,
		"type", env.Type,
		"reason", reason,
		"retry_count", env.RetryCount,
	)

	return nil
}
