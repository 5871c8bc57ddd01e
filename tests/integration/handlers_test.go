package integration

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conveyor/internal/handlers"
	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/models"
)

type capturedCommand struct {
	family  models.Family
	cmdType models.CommandType
	subject string
	payload map[string]interface{}
}

type captureEnqueuer struct {
	commands []capturedCommand
}

func (e *captureEnqueuer) Enqueue(ctx context.Context, family models.Family, cmdType models.CommandType, subject string, payload map[string]interface{}) (*models.CommandEnvelope, error) {
	e.commands = append(e.commands, capturedCommand{family: family, cmdType: cmdType, subject: subject, payload: payload})
	return &models.CommandEnvelope{Family: family, Type: cmdType, Subject: subject, Payload: payload}, nil
}

type handlerFunc func(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error

// runHandler executes a handler the way the dispatcher does: inside a
// transaction, committed on success and rolled back on error.
func runHandler(t *testing.T, db *sql.DB, fn handlerFunc, env models.CommandEnvelope) error {
	t.Helper()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	if err := fn(ctx, tx, &env); err != nil {
		require.NoError(t, tx.Rollback())
		return err
	}

	require.NoError(t, tx.Commit())
	return nil
}

func TestUserHandlerCreate(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	handler := handlers.NewUserHandler()

	env := createTestEnvelope(models.FamilyUserRegistration, models.TypeCreate, "alice",
		map[string]interface{}{"username": "alice", "email": "alice@example.com"})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Create, env))

	var email string
	err := infra.PostgresDB.QueryRow(`SELECT email FROM users WHERE username = 'alice'`).Scan(&email)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	// Same username under a new event ID is a terminal validation failure.
	dup := createTestEnvelope(models.FamilyUserRegistration, models.TypeCreate, "alice",
		map[string]interface{}{"username": "alice", "email": "other@example.com"})
	err = runHandler(t, infra.PostgresDB, handler.Create, dup)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestOrderHandlerLifecycle(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	enqueuer := &captureEnqueuer{}
	handler := handlers.NewOrderHandler(enqueuer)

	create := createTestEnvelope(models.FamilyStockOrder, models.TypeCreate, "bob",
		map[string]interface{}{"order_id": "order-1", "product_id": "widget", "quantity": 3})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Create, create))

	transition := func(payload map[string]interface{}, fn handlerFunc) error {
		env := createTestEnvelope(models.FamilyStockOrder, models.TypeConfirm, "bob", payload)
		return runHandler(t, infra.PostgresDB, fn, env)
	}
	orderRef := map[string]interface{}{"order_id": "order-1"}

	require.NoError(t, transition(orderRef, handler.Confirm))
	require.NoError(t, transition(orderRef, handler.Ship))

	// Cancel is only allowed before shipping.
	err := transition(orderRef, handler.Cancel)
	assert.True(t, pkgerrors.IsValidation(err))

	require.NoError(t, transition(orderRef, handler.Receive))

	var status string
	require.NoError(t, infra.PostgresDB.QueryRow(`SELECT status FROM orders WHERE order_id = 'order-1'`).Scan(&status))
	assert.Equal(t, "RECEIVED", status)

	// A repeated CONFIRM finds no row in CREATED and fails terminally.
	err = transition(orderRef, handler.Confirm)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestOrderHandlerGenerateInvoice(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	enqueuer := &captureEnqueuer{}
	handler := handlers.NewOrderHandler(enqueuer)

	create := createTestEnvelope(models.FamilyStockOrder, models.TypeCreate, "carol",
		map[string]interface{}{"order_id": "order-2", "product_id": "widget", "quantity": 1})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Create, create))

	env := createTestEnvelope(models.FamilyStockOrder, models.TypeGenerateInvoice, "carol",
		map[string]interface{}{"order_id": "order-2", "amount": 19.99})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.GenerateInvoice, env))

	require.Len(t, enqueuer.commands, 1)
	chained := enqueuer.commands[0]
	assert.Equal(t, models.FamilyInvoice, chained.family)
	assert.Equal(t, models.TypeGenerate, chained.cmdType)
	assert.Equal(t, "carol", chained.subject)
	assert.Equal(t, "order-2", chained.payload["order_id"])

	missing := createTestEnvelope(models.FamilyStockOrder, models.TypeGenerateInvoice, "carol",
		map[string]interface{}{"order_id": "nope", "amount": 5.0})
	err := runHandler(t, infra.PostgresDB, handler.GenerateInvoice, missing)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestInvoiceHandlerLifecycle(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	handler := handlers.NewInvoiceHandler()

	generate := createTestEnvelope(models.FamilyInvoice, models.TypeGenerate, "dave",
		map[string]interface{}{"order_id": "order-3", "amount": 42.5})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Generate, generate))

	// One invoice per order.
	second := createTestEnvelope(models.FamilyInvoice, models.TypeGenerate, "dave",
		map[string]interface{}{"order_id": "order-3", "amount": 10.0})
	err := runHandler(t, infra.PostgresDB, handler.Generate, second)
	assert.True(t, pkgerrors.IsValidation(err))

	update := createTestEnvelope(models.FamilyInvoice, models.TypeUpdate, "dave",
		map[string]interface{}{"order_id": "order-3", "amount": 50.0})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Update, update))

	markPaid := createTestEnvelope(models.FamilyInvoice, models.TypeMarkPaid, "dave",
		map[string]interface{}{"order_id": "order-3"})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.MarkPaid, markPaid))

	var status string
	var paidAt sql.NullTime
	require.NoError(t, infra.PostgresDB.QueryRow(
		`SELECT status, paid_at FROM invoices WHERE order_id = 'order-3'`).Scan(&status, &paidAt))
	assert.Equal(t, "PAID", status)
	assert.True(t, paidAt.Valid)

	// Paid invoices cannot be cancelled or edited.
	cancel := createTestEnvelope(models.FamilyInvoice, models.TypeCancel, "dave",
		map[string]interface{}{"order_id": "order-3"})
	assert.True(t, pkgerrors.IsValidation(runHandler(t, infra.PostgresDB, handler.Cancel, cancel)))
	assert.True(t, pkgerrors.IsValidation(runHandler(t, infra.PostgresDB, handler.Update, update)))
}

func TestStockHandlerFlow(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	enqueuer := &captureEnqueuer{}
	handler := handlers.NewStockHandler(enqueuer, createTestLogger())

	increase := createTestEnvelope(models.FamilyStockControl, models.TypeIncrease, "ops",
		map[string]interface{}{"product_id": "widget", "quantity": 10})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Increase, increase))

	_, err := infra.PostgresDB.Exec(`UPDATE stock_items SET low_stock_threshold = 3 WHERE product_id = 'widget'`)
	require.NoError(t, err)

	decrease := createTestEnvelope(models.FamilyStockControl, models.TypeDecrease, "ops",
		map[string]interface{}{"product_id": "widget", "quantity": 8})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Decrease, decrease))

	// 2 remaining, threshold 3: a low-stock alert is chained.
	require.Len(t, enqueuer.commands, 1)
	assert.Equal(t, models.TypeLowStockAlert, enqueuer.commands[0].cmdType)

	// The guard in the UPDATE rejects a decrease below zero.
	tooMuch := createTestEnvelope(models.FamilyStockControl, models.TypeDecrease, "ops",
		map[string]interface{}{"product_id": "widget", "quantity": 5})
	assert.True(t, pkgerrors.IsValidation(runHandler(t, infra.PostgresDB, handler.Decrease, tooMuch)))

	drain := createTestEnvelope(models.FamilyStockControl, models.TypeDecrease, "ops",
		map[string]interface{}{"product_id": "widget", "quantity": 2})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Decrease, drain))
	require.Len(t, enqueuer.commands, 2)
	assert.Equal(t, models.TypeOutOfStockAlert, enqueuer.commands[1].cmdType)

	alert := createTestEnvelope(models.FamilyStockControl, models.TypeOutOfStockAlert, "ops",
		map[string]interface{}{"product_id": "widget"})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.OutOfStockAlert, alert))

	var audits int
	require.NoError(t, infra.PostgresDB.QueryRow(
		`SELECT COUNT(*) FROM stock_audit WHERE product_id = 'widget'`).Scan(&audits))
	// increase, two decreases, out-of-stock alert
	assert.Equal(t, 4, audits)

	check := createTestEnvelope(models.FamilyStockControl, models.TypeCheck, "ops",
		map[string]interface{}{"product_id": "ghost"})
	assert.True(t, pkgerrors.IsValidation(runHandler(t, infra.PostgresDB, handler.Check, check)))
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(ctx context.Context, family models.Family, cmdType models.CommandType, subject string, payload map[string]interface{}) (*models.CommandEnvelope, error) {
	return nil, pkgerrors.ErrTransient.WithMessage("broker unavailable")
}

func TestStockHandlerAlertEnqueueFailureDoesNotFailDecrease(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	handler := handlers.NewStockHandler(failingEnqueuer{}, createTestLogger())

	increase := createTestEnvelope(models.FamilyStockControl, models.TypeIncrease, "ops",
		map[string]interface{}{"product_id": "gadget", "quantity": 2})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Increase, increase))

	// Draining to zero chains an out-of-stock alert; the broken enqueuer
	// only costs the alert, never the decrease.
	drain := createTestEnvelope(models.FamilyStockControl, models.TypeDecrease, "ops",
		map[string]interface{}{"product_id": "gadget", "quantity": 2})
	require.NoError(t, runHandler(t, infra.PostgresDB, handler.Decrease, drain))

	var quantity int
	require.NoError(t, infra.PostgresDB.QueryRow(
		`SELECT quantity FROM stock_items WHERE product_id = 'gadget'`).Scan(&quantity))
	assert.Zero(t, quantity)
}
