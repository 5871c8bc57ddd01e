package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/models"
)

const (
	orderStatusCreated   = "CREATED"
	orderStatusConfirmed = "CONFIRMED"
	orderStatusShipped   = "SHIPPED"
	orderStatusCancelled = "CANCELLED"
	orderStatusReceived  = "RECEIVED"
)

// CommandEnqueuer lets a handler chain a follow-up command into the
// pipeline. Chained commands are published outside the handler's
// transaction; the new command's own tracking record covers it.
type CommandEnqueuer interface {
	Enqueue(ctx context.Context, family models.Family, cmdType models.CommandType, subject string, payload map[string]interface{}) (*models.CommandEnvelope, error)
}

// OrderHandler drives the stock-order lifecycle:
// CREATED -> CONFIRMED -> SHIPPED -> RECEIVED, with CANCELLED reachable
// until shipping. Each transition is a guarded UPDATE so an out-of-order
// or repeated command fails terminally instead of corrupting state.
type OrderHandler struct {
	enqueuer CommandEnqueuer
}

func NewOrderHandler(enqueuer CommandEnqueuer) *OrderHandler {
	return &OrderHandler{enqueuer: enqueuer}
}

func (h *OrderHandler) Create(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	orderID := optionalStringField(env, "order_id", env.EventID)
	productID, err := stringField(env, "product_id")
	if err != nil {
		return err
	}
	quantity, err := positiveIntField(env, "quantity")
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
		INSERT INTO orders (order_id, subject, product_id, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = tx.ExecContext(ctx, query, orderID, env.Subject, productID, quantity, orderStatusCreated, now, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrValidation.WithCause(err).
				WithMessage(fmt.Sprintf("order '%s' already exists", orderID))
		}
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to create order")
	}

	return nil
}

func (h *OrderHandler) Confirm(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	return h.transition(ctx, tx, env, orderStatusConfirmed, orderStatusCreated)
}

func (h *OrderHandler) Ship(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	return h.transition(ctx, tx, env, orderStatusShipped, orderStatusConfirmed)
}

func (h *OrderHandler) Cancel(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	return h.transition(ctx, tx, env, orderStatusCancelled, orderStatusCreated, orderStatusConfirmed)
}

func (h *OrderHandler) Receive(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	return h.transition(ctx, tx, env, orderStatusReceived, orderStatusShipped)
}

// GenerateInvoice reads the order and chains an invoice GENERATE command.
func (h *OrderHandler) GenerateInvoice(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	orderID, err := stringField(env, "order_id")
	if err != nil {
		return err
	}
	amount, err := numberField(env, "amount")
	if err != nil {
		return err
	}

	var status string
	row := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE order_id = $1`, orderID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("order '%s' not found", orderID))
		}
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to load order")
	}

	if status == orderStatusCancelled {
		return pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("cannot invoice cancelled order '%s'", orderID))
	}

	_, err = h.enqueuer.Enqueue(ctx, models.FamilyInvoice, models.TypeGenerate, env.Subject,
		map[string]interface{}{
			"order_id": orderID,
			"amount":   amount,
		})
	if err != nil {
		return fmt.Errorf("failed to chain invoice command: %w", err)
	}

	return nil
}

func (h *OrderHandler) transition(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope, next string, allowed ...string) error {
	orderID, err := stringField(env, "order_id")
	if err != nil {
		return err
	}

	query := `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE order_id = $2 AND status = ANY($3)
	`

	res, err := tx.ExecContext(ctx, query, next, orderID, pq.Array(allowed))
	if err != nil {
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to update order")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrValidation.WithMessage(
			fmt.Sprintf("order '%s' cannot move to %s from its current state", orderID, next))
	}

	return nil
}
