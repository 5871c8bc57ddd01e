package dispatcher

import (
	"context"
	"database/sql"
	"fmt"

	"conveyor/pkg/models"
)

// Handler executes the business effect of one command inside the supplied
// transaction. The dispatcher owns the transaction and the tracking
// transition; a handler only reports success or a classified error.
type Handler interface {
	Handle(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error
}

type HandlerFunc func(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error

func (f HandlerFunc) Handle(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	return f(ctx, tx, env)
}

type registryKey struct {
	family  models.Family
	cmdType models.CommandType
}

// Registry maps (family, type) pairs to handlers. The command set is
// closed, so registration of an unknown pair is a programming error.
type Registry struct {
	handlers map[registryKey]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[registryKey]Handler)}
}

func (r *Registry) Register(family models.Family, cmdType models.CommandType, handler Handler) error {
	if !models.ValidCommand(family, cmdType) {
		return fmt.Errorf("cannot register handler for unknown command %s/%s", family, cmdType)
	}

	key := registryKey{family: family, cmdType: cmdType}
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("handler already registered for %s/%s", family, cmdType)
	}

	r.handlers[key] = handler
	return nil
}

func (r *Registry) MustRegister(family models.Family, cmdType models.CommandType, handler Handler) {
	if err := r.Register(family, cmdType, handler); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(family models.Family, cmdType models.CommandType) (Handler, bool) {
	handler, ok := r.handlers[registryKey{family: family, cmdType: cmdType}]
	return handler, ok
}
