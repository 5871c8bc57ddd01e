package broker

import (
	"context"

	"conveyor/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, env models.CommandEnvelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one envelope. The consumer commits the offset only
// after the handler returns, so a handler must not return before the
// tracking store reflects the command's outcome.
type HandlerFunc func(ctx context.Context, env models.CommandEnvelope) error
