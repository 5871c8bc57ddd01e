package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"conveyor/internal/broker"
	"conveyor/internal/logger"
	"conveyor/pkg/metrics"
	"conveyor/pkg/models"
)

// DelayScheduler holds retry envelopes until their NotBefore instant and
// then feeds them back onto the family's main topic. Add never blocks the
// retry-topic consumer; each envelope waits on its own timer.
type DelayScheduler struct {
	producer broker.Producer
	logger   logger.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
	stopped bool
}

func NewDelayScheduler(producer broker.Producer, log logger.Logger) *DelayScheduler {
	return &DelayScheduler{
		producer: producer,
		logger:   log,
		timers:   make(map[string]*time.Timer),
	}
}

func (s *DelayScheduler) Add(ctx context.Context, env models.CommandEnvelope) {
	delay := time.Until(env.NotBefore)
	if delay <= 0 {
		s.redispatch(ctx, env)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		// Late arrival during shutdown: deliver immediately rather than
		// dropping; the dispatcher's CAS guard tolerates an early attempt.
		s.redispatch(ctx, env)
		return
	}

	s.wg.Add(1)
	metrics.RetryQueueDepth.WithLabelValues(string(env.Family)).Inc()

	timerKey := timerKeyFor(env)
	s.timers[timerKey] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		defer metrics.RetryQueueDepth.WithLabelValues(string(env.Family)).Dec()

		s.mu.Lock()
		delete(s.timers, timerKey)
		s.mu.Unlock()

		s.redispatch(ctx, env)
	})
	s.mu.Unlock()
}

// Consume wires the scheduler to a retry-topic consumer.
func (s *DelayScheduler) Consume(ctx context.Context, consumer broker.Consumer, family models.Family) error {
	return consumer.Consume(ctx, models.RetryTopic(family), func(msgCtx context.Context, env models.CommandEnvelope) error {
		s.Add(msgCtx, env)
		return nil
	})
}

// Stop fires all pending timers immediately and waits for their publishes
// to finish. Envelopes re-enter the main topic early; the NotBefore stamp
// still records the intended delay.
func (s *DelayScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, timer := range s.timers {
		if timer.Stop() {
			timer.Reset(0)
		}
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *DelayScheduler) redispatch(ctx context.Context, env models.CommandEnvelope) {
	if err := s.producer.Publish(ctx, models.Topic(env.Family), env); err != nil {
		// The tracking record stays in Retry; the reaper will fail it if
		// no later delivery succeeds.
		s.logger.ErrorwCtx(ctx, "Failed to redispatch retry envelope",
			"error", err,
			"family", env.Family,
			"event_id", env.EventID,
		)
	}
}

func timerKeyFor(env models.CommandEnvelope) string {
	// Same event can be scheduled once per attempt.
	return fmt.Sprintf("%s#%d", env.EventID, env.RetryCount)
}
