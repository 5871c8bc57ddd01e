package producer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"conveyor/internal/broker"
	"conveyor/internal/constants"
	"conveyor/internal/logger"
	"conveyor/internal/tracking"
	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/logging"
	"conveyor/pkg/metrics"
	"conveyor/pkg/models"
	"conveyor/pkg/tracing"
)

// Producer accepts commands into the pipeline. Each accepted command gets
// a Pending tracking record before its envelope is published, so an
// operator can always account for a command that was acknowledged.
type Producer struct {
	broker     broker.Producer
	store      tracking.Store
	maxRetries int
	logger     logger.Logger
}

func New(b broker.Producer, store tracking.Store, maxRetries int, log logger.Logger) *Producer {
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxRetries
	}
	return &Producer{
		broker:     b,
		store:      store,
		maxRetries: maxRetries,
		logger:     log,
	}
}

// Enqueue validates, records and publishes a new command. The returned
// envelope carries the generated event ID.
func (p *Producer) Enqueue(ctx context.Context, family models.Family, cmdType models.CommandType, subject string, payload map[string]interface{}) (*models.CommandEnvelope, error) {
	env := models.NewCommandEnvelopeBuilder().
		WithEventID(uuid.New().String()).
		WithCommand(family, cmdType).
		WithSubject(subject).
		WithPayload(payload).
		WithMaxRetries(p.maxRetries).
		WithTraceID(tracing.TraceIDFromContext(ctx)).
		Build()

	if err := models.ValidateCommandEnvelope(env); err != nil {
		metrics.IncCommandEnqueued(string(family), string(cmdType), "rejected")
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage(err.Error())
	}

	ctx = logging.WithEventID(ctx, env.EventID)
	ctx = logging.WithSubject(ctx, env.Subject)

	if err := p.store.Create(ctx, tracking.NewRecordFromEnvelope(*env)); err != nil {
		metrics.IncCommandEnqueued(string(family), string(cmdType), "error")
		return nil, fmt.Errorf("failed to record command: %w", err)
	}

	if err := p.broker.Publish(ctx, models.Topic(family), *env); err != nil {
		p.compensate(ctx, env.EventID, err)
		metrics.IncCommandEnqueued(string(family), string(cmdType), "error")
		return nil, fmt.Errorf("failed to publish command: %w", err)
	}

	metrics.IncCommandEnqueued(string(family), string(cmdType), "accepted")
	p.logger.InfowCtx(ctx, "Command enqueued",
		"family", family,
		"type", cmdType,
	)

	return env, nil
}

// Replay republishes an existing envelope under its original event ID,
// resetting it to a fresh attempt. Used by the dead-letter replay path.
func (p *Producer) Replay(ctx context.Context, env models.CommandEnvelope) error {
	env.Status = models.StatusPending
	env.RetryCount = 0
	env.Message = ""
	env.Metadata.DLQReason = ""

	ctx = logging.WithEventID(ctx, env.EventID)

	// The tracking row already exists in a terminal state; replay starts a
	// new lifecycle for the same event ID.
	if err := p.store.UpdateStatus(ctx, env.EventID, models.StatusPending, "replayed from dead letter",
		models.StatusFailed, models.StatusCompleted); err != nil {
		return err
	}

	if err := p.broker.Publish(ctx, models.Topic(env.Family), env); err != nil {
		p.compensate(ctx, env.EventID, err)
		return fmt.Errorf("failed to republish command: %w", err)
	}

	p.logger.InfowCtx(ctx, "Command replayed",
		"family", env.Family,
		"type", env.Type,
	)

	return nil
}

// compensate fails the Pending record after a publish error so the
// command does not linger until the reaper finds it.
func (p *Producer) compensate(ctx context.Context, eventID string, cause error) {
	message := fmt.Sprintf("publish failed: %v", cause)
	if err := p.store.UpdateStatus(ctx, eventID, models.StatusFailed, message, models.StatusPending); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to compensate unpublished command, reaper will sweep it",
			"error", err,
		)
	}
}
