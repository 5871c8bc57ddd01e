package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/logger"
	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/models"
)

const (
	auditEventCheck      = "CHECK"
	auditEventDecrease   = "DECREASE"
	auditEventIncrease   = "INCREASE"
	auditEventLowStock   = "LOW_STOCK_ALERT"
	auditEventOutOfStock = "OUT_OF_STOCK_ALERT"
)

// StockHandler maintains stock levels. Quantity guards are enforced in
// the UPDATE itself, so two concurrent decreases can never drive a level
// negative. Alerts and checks append to the audit trail. When a level
// crosses its threshold, the matching alert command is chained.
type StockHandler struct {
	enqueuer CommandEnqueuer
	logger   logger.Logger
}

func NewStockHandler(enqueuer CommandEnqueuer, log logger.Logger) *StockHandler {
	return &StockHandler{enqueuer: enqueuer, logger: log}
}

func (h *StockHandler) Check(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	productID, err := stringField(env, "product_id")
	if err != nil {
		return err
	}

	quantity, _, err := h.currentLevel(ctx, tx, productID)
	if err != nil {
		return err
	}

	return h.audit(ctx, tx, productID, auditEventCheck, quantity)
}

func (h *StockHandler) Decrease(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	productID, err := stringField(env, "product_id")
	if err != nil {
		return err
	}
	amount, err := positiveIntField(env, "quantity")
	if err != nil {
		return err
	}

	query := `
		UPDATE stock_items
		SET quantity = quantity - $1, updated_at = NOW()
		WHERE product_id = $2 AND quantity >= $1
		RETURNING quantity, low_stock_threshold
	`

	var remaining, threshold int
	err = tx.QueryRowContext(ctx, query, amount, productID).Scan(&remaining, &threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return pkgerrors.ErrValidation.WithMessage(
			fmt.Sprintf("insufficient stock for product '%s'", productID))
	}
	if err != nil {
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to decrease stock")
	}

	if err := h.audit(ctx, tx, productID, auditEventDecrease, amount); err != nil {
		return err
	}

	h.chainAlert(ctx, env, productID, remaining, threshold)
	return nil
}

func (h *StockHandler) Increase(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	productID, err := stringField(env, "product_id")
	if err != nil {
		return err
	}
	amount, err := positiveIntField(env, "quantity")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO stock_items (product_id, quantity, low_stock_threshold, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		ON CONFLICT (product_id)
		DO UPDATE SET quantity = stock_items.quantity + $2, updated_at = NOW()
	`

	if _, err := tx.ExecContext(ctx, query, productID, amount); err != nil {
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to increase stock")
	}

	return h.audit(ctx, tx, productID, auditEventIncrease, amount)
}

func (h *StockHandler) LowStockAlert(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	return h.alert(ctx, tx, env, auditEventLowStock)
}

func (h *StockHandler) OutOfStockAlert(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
	return h.alert(ctx, tx, env, auditEventOutOfStock)
}

func (h *StockHandler) alert(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope, eventType string) error {
	productID, err := stringField(env, "product_id")
	if err != nil {
		return err
	}

	quantity, _, err := h.currentLevel(ctx, tx, productID)
	if err != nil {
		return err
	}

	return h.audit(ctx, tx, productID, eventType, quantity)
}

func (h *StockHandler) currentLevel(ctx context.Context, tx *sql.Tx, productID string) (int, int, error) {
	var quantity, threshold int
	row := tx.QueryRowContext(ctx,
		`SELECT quantity, low_stock_threshold FROM stock_items WHERE product_id = $1`, productID)
	if err := row.Scan(&quantity, &threshold); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, pkgerrors.ErrValidation.WithMessage(
				fmt.Sprintf("product '%s' not found", productID))
		}
		return 0, 0, pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to load stock item")
	}
	return quantity, threshold, nil
}

func (h *StockHandler) audit(ctx context.Context, tx *sql.Tx, productID, eventType string, quantity int) error {
	query := `
		INSERT INTO stock_audit (product_id, event_type, quantity, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := tx.ExecContext(ctx, query, productID, eventType, quantity, time.Now()); err != nil {
		return pkgerrors.ErrTransient.WithCause(err).WithMessage("failed to write stock audit")
	}
	return nil
}

// chainAlert enqueues the threshold alert after the decrease committed
// its guard. Alert failures never fail the decrease.
func (h *StockHandler) chainAlert(ctx context.Context, env *models.CommandEnvelope, productID string, remaining, threshold int) {
	var alertType models.CommandType
	switch {
	case remaining == 0:
		alertType = models.TypeOutOfStockAlert
	case remaining <= threshold:
		alertType = models.TypeLowStockAlert
	default:
		return
	}

	if _, err := h.enqueuer.Enqueue(ctx, models.FamilyStockControl, alertType, env.Subject,
		map[string]interface{}{"product_id": productID}); err != nil {
		h.logger.WarnwCtx(ctx, "Failed to chain stock alert",
			"error", err,
			"product_id", productID,
			"alert_type", alertType,
		)
	}
}
