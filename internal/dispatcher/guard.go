package dispatcher

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"conveyor/internal/config"
	"conveyor/internal/constants"
	"conveyor/pkg/circuitbreaker"
)

// ProcessedGuard remembers which event IDs already completed so a Kafka
// redelivery does not re-execute a handler. The guard is advisory: when
// it is unavailable the tracking store's CAS transitions still prevent a
// completed command from running twice.
type ProcessedGuard interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// NoopGuard stands in when no Redis is configured. Every delivery looks
// new, so the tracking store's CAS transitions carry deduplication alone.
type NoopGuard struct{}

func (NoopGuard) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	return false, nil
}

func (NoopGuard) MarkProcessed(ctx context.Context, eventID string) error {
	return nil
}

type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := g.client.Exists(ctx, constants.ProcessedKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := g.client.SetNX(ctx, constants.ProcessedKeyPrefix+eventID, 1, constants.ProcessedKeyTTL).Result()
	if err != nil {
		return fmt.Errorf("redis SetNX failed: %w", err)
	}
	return nil
}

// CircuitBreakerGuard stops hammering Redis once it misbehaves. While the
// breaker is open every check reports "not processed" and marking becomes
// a no-op.
type CircuitBreakerGuard struct {
	guard ProcessedGuard
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerGuard(guard ProcessedGuard, cfg config.CircuitBreakerConfig) *CircuitBreakerGuard {
	if !cfg.Enabled {
		return &CircuitBreakerGuard{guard: guard}
	}

	cbConfig := circuitbreaker.DefaultConfig("redis-processed-guard")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerGuard{
		guard: guard,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (g *CircuitBreakerGuard) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if g.cb == nil {
		return g.guard.IsProcessed(ctx, eventID)
	}

	result, err := g.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return g.guard.IsProcessed(ctx, eventID)
	})

	g.cb.RecordRequest(err == nil)

	if err != nil {
		if g.cb.IsOpen() {
			return false, nil
		}
		return false, err
	}

	processed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("guard returned invalid result type")
	}

	return processed, nil
}

func (g *CircuitBreakerGuard) MarkProcessed(ctx context.Context, eventID string) error {
	if g.cb == nil {
		return g.guard.MarkProcessed(ctx, eventID)
	}

	_, err := g.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, g.guard.MarkProcessed(ctx, eventID)
	})

	g.cb.RecordRequest(err == nil)

	if err != nil && g.cb.IsOpen() {
		return nil
	}
	return err
}
