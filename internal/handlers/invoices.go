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

const (
	invoiceStatusGenerated = "GENERATED"
	invoiceStatusPaid      = "PAID"
	invoiceStatusCancelled = "CANCELLED"
)

// InvoiceHandler manages invoices keyed by order. One invoice per order;
// the unique order_id constraint absorbs replays of GENERATE.
type InvoiceHandler struct{}

func NewInvoiceHandler() *InvoiceHandler {
	return &InvoiceHandler{}
}

func (h *InvoiceHandler) Generate(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	orderID, err := stringField(env, "order_id")
	if err != nil {
		return err
	}
	amount, err := numberField(env, "amount")
	if err != nil {
		return err
	}
	if amount <= 0 {
		return pkgerrors.ErrValidation.WithMessage("invoice amount must be positive")
	}

	now := time.Now()
	query := `
		INSERT INTO invoices (invoice_id, order_id, subject, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = tx.ExecContext(ctx, query, env.EventID, orderID, env.Subject, amount, invoiceStatusGenerated, now, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrValidation.WithCause(err).
				WithMessage(fmt.Sprintf("invoice for order '%s' already exists", orderID))
		}
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to generate invoice")
	}

	return nil
}

func (h *InvoiceHandler) MarkPaid(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	orderID, err := stringField(env, "order_id")
	if err != nil {
		return err
	}

	query := `
		UPDATE invoices
		SET status = $1, paid_at = NOW(), updated_at = NOW()
		WHERE order_id = $2 AND status = $3
	`

	res, err := tx.ExecContext(ctx, query, invoiceStatusPaid, orderID, invoiceStatusGenerated)
	if err != nil {
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to mark invoice paid")
	}

	return requireRow(res, fmt.Sprintf("no open invoice for order '%s'", orderID))
}

func (h *InvoiceHandler) Cancel(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	orderID, err := stringField(env, "order_id")
	if err != nil {
		return err
	}

	// A paid invoice cannot be cancelled.
	query := `
		UPDATE invoices
		SET status = $1, updated_at = NOW()
		WHERE order_id = $2 AND status = $3
	`

	res, err := tx.ExecContext(ctx, query, invoiceStatusCancelled, orderID, invoiceStatusGenerated)
	if err != nil {
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to cancel invoice")
	}

	return requireRow(res, fmt.Sprintf("no cancellable invoice for order '%s'", orderID))
}

func (h *InvoiceHandler) Update(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	orderID, err := stringField(env, "order_id")
	if err != nil {
		return err
	}
	amount, err := numberField(env, "amount")
	if err != nil {
		return err
	}
	if amount <= 0 {
		return pkgerrors.ErrValidation.WithMessage("invoice amount must be positive")
	}

	query := `
		UPDATE invoices
		SET amount = $1, updated_at = NOW()
		WHERE order_id = $2 AND status = $3
	`

	res, err := tx.ExecContext(ctx, query, amount, orderID, invoiceStatusGenerated)
	if err != nil {
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to update invoice")
	}

	return requireRow(res, fmt.Sprintf("no open invoice for order '%s'", orderID))
}

func requireRow(res sql.Result, message string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrValidation.WithMessage(message)
	}
	return nil
}
