package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/models"
)

// UserHandler registers new users. The unique username constraint is the
// idempotence guard: replaying a registration fails terminally instead of
// creating a second account.
type UserHandler struct{}

func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

func (h *UserHandler) Create(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	username, err := stringField(env, "username")
	if err != nil {
		return err
	}
	email, err := stringField(env, "email")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (id, username, email, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err = tx.ExecContext(ctx, query, env.EventID, username, email, time.Now())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrValidation.WithCause(err).
				WithMessage(fmt.Sprintf("user '%s' already exists", username))
		}
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to create user")
	}

	return nil
}
