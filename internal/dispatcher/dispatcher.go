package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"conveyor/internal/broker"
	"conveyor/internal/config"
	"conveyor/internal/deadletter"
	"conveyor/internal/logger"
	"conveyor/internal/tracking"
	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/metrics"
	"conveyor/pkg/models"
)

const (
	outcomeCompleted = "completed"
	outcomeRetried   = "retried"
	outcomeDead      = "dead_lettered"
	outcomeDuplicate = "duplicate"
	outcomeSkipped   = "skipped"
)

// Dispatcher consumes one family's main topic and drives each command
// through its lifecycle: claim the tracking record, run the registered
// handler in a transaction, then either complete, schedule a retry, or
// hand the envelope to the dead-letter sink.
type Dispatcher struct {
	family     models.Family
	registry   *Registry
	db         *sql.DB
	store      tracking.Store
	guard      ProcessedGuard
	retries    *RetryController
	sink       *deadletter.Sink
	brokerCfg  config.BrokerConfig
	workers    int
	maxRetries int
	logger     logger.Logger
}

type Deps struct {
	Registry *Registry
	DB       *sql.DB
	Store    tracking.Store
	Guard    ProcessedGuard
	Retries  *RetryController
	Sink     *deadletter.Sink
	Logger   logger.Logger
}

func New(family models.Family, brokerCfg config.BrokerConfig, dispatcherCfg config.DispatcherConfig, maxRetries int, deps Deps) *Dispatcher {
	workers := dispatcherCfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		family:     family,
		registry:   deps.Registry,
		db:         deps.DB,
		store:      deps.Store,
		guard:      deps.Guard,
		retries:    deps.Retries,
		sink:       deps.Sink,
		brokerCfg:  brokerCfg,
		workers:    workers,
		maxRetries: maxRetries,
		logger:     deps.Logger,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled. Each
// worker is its own consumer in the family's consumer group, so Kafka
// spreads partitions across them and per-key ordering is preserved.
func (d *Dispatcher) Run(ctx context.Context) error {
	groupID := fmt.Sprintf("%s-dispatcher-%s", d.brokerCfg.Kafka.GroupID, d.family)
	topic := models.Topic(d.family)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		consumer, err := broker.NewConsumer(d.brokerCfg, groupID, d.logger)
		if err != nil {
			return fmt.Errorf("failed to create consumer for %s: %w", d.family, err)
		}
		consumer.SetServiceName(fmt.Sprintf("dispatcher-%s", d.family))

		g.Go(func() error {
			defer consumer.Close()
			return consumer.Consume(gctx, topic, d.Dispatch)
		})
	}

	d.logger.Infow("Dispatcher started",
		"family", d.family,
		"topic", topic,
		"workers", d.workers,
	)

	return g.Wait()
}

// Dispatch processes one delivered envelope. It returns an error only for
// infrastructure failures that the consumer should retry in-process;
// command failures are absorbed into status transitions.
func (d *Dispatcher) Dispatch(ctx context.Context, env models.CommandEnvelope) error {
	family, cmdType := env.Family, env.Type

	if duplicate, err := d.guard.IsProcessed(ctx, env.EventID); err != nil {
		d.logger.WarnwCtx(ctx, "Processed guard unavailable, relying on tracking store",
			"error", err,
		)
	} else if duplicate {
		metrics.IncDuplicateDelivery(string(family))
		metrics.IncCommandProcessed(string(family), string(cmdType), outcomeDuplicate)
		d.logger.InfowCtx(ctx, "Duplicate delivery absorbed")
		return nil
	}

	// Claim the record. An envelope can arrive without a ledger row when it
	// was replayed or published from outside the producer path; recreate the
	// row and claim again. A second miss means another worker already owns
	// or finished this command.
	err := d.store.UpdateStatus(ctx, env.EventID, models.StatusProcessing, "",
		models.StatusPending, models.StatusRetry)
	if pkgerrors.IsNotFound(err) {
		if createErr := d.store.Create(ctx, tracking.NewRecordFromEnvelope(env)); createErr != nil {
			return fmt.Errorf("failed to recreate tracking record: %w", createErr)
		}
		err = d.store.UpdateStatus(ctx, env.EventID, models.StatusProcessing, "",
			models.StatusPending, models.StatusRetry)
	}
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			metrics.IncCommandProcessed(string(family), string(cmdType), outcomeSkipped)
			d.logger.InfowCtx(ctx, "Envelope skipped, tracking record not claimable")
			return nil
		}
		return fmt.Errorf("failed to claim tracking record: %w", err)
	}

	start := time.Now()
	handlerErr := d.execute(ctx, &env)
	metrics.ObserveCommandDuration(string(family), string(cmdType), time.Since(start))

	if handlerErr == nil {
		if err := d.store.UpdateStatus(ctx, env.EventID, models.StatusCompleted, "",
			models.StatusProcessing); err != nil {
			return fmt.Errorf("failed to complete tracking record: %w", err)
		}
		if err := d.guard.MarkProcessed(ctx, env.EventID); err != nil {
			d.logger.WarnwCtx(ctx, "Failed to mark event processed",
				"error", err,
			)
		}
		metrics.IncCommandProcessed(string(family), string(cmdType), outcomeCompleted)
		d.logger.InfowCtx(ctx, "Command completed",
			"family", family,
			"type", cmdType,
		)
		return nil
	}

	return d.fail(ctx, env, handlerErr)
}

// execute runs the handler inside a transaction with panic containment.
func (d *Dispatcher) execute(ctx context.Context, env *models.CommandEnvelope) (err error) {
	handler, ok := d.registry.Lookup(env.Family, env.Type)
	if !ok {
		return pkgerrors.ErrValidation.WithMessage(
			fmt.Sprintf("unknown command type %s/%s", env.Family, env.Type))
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to begin transaction")
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			err = pkgerrors.RecoverPanic(r)
			d.logger.ErrorwCtx(ctx, "Handler panicked",
				"error", err,
			)
		}
	}()

	if err := handler.Handle(ctx, tx, env); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to commit transaction")
	}

	return nil
}

// fail routes a handler error: fatal errors and exhausted budgets go to
// the dead-letter sink, everything else gets another attempt.
func (d *Dispatcher) fail(ctx context.Context, env models.CommandEnvelope, handlerErr error) error {
	family, cmdType := env.Family, env.Type
	maxRetries := env.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.maxRetries
	}

	fatal := !isRetryable(handlerErr)
	exhausted := env.RetryCount >= maxRetries

	if !fatal && !exhausted {
		if err := d.retries.Schedule(ctx, env, handlerErr.Error()); err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		metrics.IncCommandProcessed(string(family), string(cmdType), outcomeRetried)
		return nil
	}

	reason := "retries exhausted"
	if fatal {
		reason = "fatal error"
	}

	message := fmt.Sprintf("%s: %v", reason, handlerErr)
	if err := d.store.UpdateStatus(ctx, env.EventID, models.StatusFailed, message,
		models.StatusProcessing); err != nil {
		return fmt.Errorf("failed to fail tracking record: %w", err)
	}

	env.Message = message
	if err := d.sink.DeadLetter(ctx, env, reason); err != nil {
		return fmt.Errorf("failed to dead-letter command: %w", err)
	}

	metrics.IncCommandProcessed(string(family), string(cmdType), outcomeDead)
	return nil
}

func isRetryable(err error) bool {
	var retryableErr pkgerrors.RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	// Unclassified errors default to retryable.
	return true
}
