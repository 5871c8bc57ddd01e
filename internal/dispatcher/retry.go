package dispatcher

import (
	"context"
	"fmt"
	"time"

	"conveyor/internal/broker"
	"conveyor/internal/config"
	"conveyor/internal/logger"
	"conveyor/internal/tracking"
	"conveyor/pkg/metrics"
	"conveyor/pkg/models"
	"conveyor/pkg/retry"
)

// RetryController schedules another attempt for a command whose handler
// failed retryably. The delay grows exponentially with the retry count
// and is served by republishing on the family's retry topic, so a worker
// crash never loses a pending retry.
type RetryController struct {
	producer broker.Producer
	store    tracking.Store
	cfg      config.RetryConfig
	logger   logger.Logger
}

func NewRetryController(producer broker.Producer, store tracking.Store, cfg config.RetryConfig, log logger.Logger) *RetryController {
	return &RetryController{
		producer: producer,
		store:    store,
		cfg:      cfg,
		logger:   log,
	}
}

func (c *RetryController) Schedule(ctx context.Context, env models.CommandEnvelope, cause string) error {
	attempt := env.RetryCount + 1
	delay := retry.Delay(attempt, c.cfg.BaseDelay, c.cfg.Multiplier, c.cfg.CapDelay)

	env.RetryCount = attempt
	env.Status = models.StatusRetry
	env.Message = cause
	env.NotBefore = time.Now().Add(delay)

	if err := c.store.UpdateRetry(ctx, env.EventID, attempt, cause); err != nil {
		return fmt.Errorf("failed to record retry: %w", err)
	}

	if err := c.producer.Publish(ctx, models.RetryTopic(env.Family), env); err != nil {
		return fmt.Errorf("failed to publish retry envelope: %w", err)
	}

	metrics.IncRetryAttempt(string(env.Family))
	c.logger.InfowCtx(ctx, "Retry scheduled",
		"family", env.Family,
		"type", env.Type,
		"attempt", attempt,
		"max_retries", env.MaxRetries,
		"delay", delay,
	)

	return nil
}
