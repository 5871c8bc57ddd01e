package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conveyor/internal/dispatcher"
	"conveyor/internal/logger"
	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/models"
)

type fakeEnqueuer struct {
	enqueued []models.CommandEnvelope
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, family models.Family, cmdType models.CommandType, subject string, payload map[string]interface{}) (*models.CommandEnvelope, error) {
	env := models.CommandEnvelope{Family: family, Type: cmdType, Subject: subject, Payload: payload}
	f.enqueued = append(f.enqueued, env)
	return &env, nil
}

func TestRegisterAllCoversClosedCommandSet(t *testing.T) {
	registry := dispatcher.NewRegistry()
	RegisterAll(registry, &fakeEnqueuer{}, logger.NopLogger())

	for _, family := range models.Families() {
		for _, cmdType := range models.FamilyTypes(family) {
			_, ok := registry.Lookup(family, cmdType)
			assert.True(t, ok, "missing handler for %s/%s", family, cmdType)
		}
	}
}

func TestPayloadFieldValidation(t *testing.T) {
	env := &models.CommandEnvelope{
		Payload: map[string]interface{}{
			"username": "alice",
			"quantity": 3.0,
			"fraction": 2.5,
			"blank":    "",
		},
	}

	s, err := stringField(env, "username")
	require.NoError(t, err)
	assert.Equal(t, "alice", s)

	_, err = stringField(env, "missing")
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = stringField(env, "blank")
	assert.True(t, pkgerrors.IsValidation(err))

	n, err := positiveIntField(env, "quantity")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = intField(env, "fraction")
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = positiveIntField(env, "missing")
	assert.True(t, pkgerrors.IsValidation(err))

	assert.Equal(t, "fallback", optionalStringField(env, "missing", "fallback"))
	assert.Equal(t, "alice", optionalStringField(env, "username", "fallback"))
}

func TestUserCreateRequiresFields(t *testing.T) {
	handler := NewUserHandler()

	err := handler.Create(context.Background(), nil, &models.CommandEnvelope{
		Payload: map[string]interface{}{"username": "alice"},
	})
	assert.True(t, pkgerrors.IsValidation(err), "missing email must be terminal")

	err = handler.Create(context.Background(), nil, &models.CommandEnvelope{Payload: nil})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestOrderCreateValidatesQuantity(t *testing.T) {
	handler := NewOrderHandler(&fakeEnqueuer{})

	err := handler.Create(context.Background(), nil, &models.CommandEnvelope{
		Payload: map[string]interface{}{"product_id": "p-1", "quantity": 0.0},
	})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestInvoiceGenerateValidatesAmount(t *testing.T) {
	handler := NewInvoiceHandler()

	err := handler.Generate(context.Background(), nil, &models.CommandEnvelope{
		Payload: map[string]interface{}{"order_id": "o-1", "amount": -5.0},
	})
	assert.True(t, pkgerrors.IsValidation(err))
}
