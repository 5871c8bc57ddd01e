package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conveyor/pkg/models"
)

func TestEvaluateFilter(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	env := models.CommandEnvelope{
		EventID:    "evt-1",
		Family:     models.FamilyStockOrder,
		Type:       models.TypeCreate,
		Subject:    "user-42",
		Status:     models.StatusFailed,
		RetryCount: 3,
		Payload: map[string]interface{}{
			"amount":   1500.0,
			"currency": "EUR",
		},
		Metadata: models.Metadata{DLQReason: "retries exhausted"},
	}

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{
			name:       "match on family",
			expression: `family == "stock-order"`,
			want:       true,
		},
		{
			name:       "match on payload field",
			expression: `payload.amount > 1000.0`,
			want:       true,
		},
		{
			name:       "no match on subject",
			expression: `subject == "user-7"`,
			want:       false,
		},
		{
			name:       "compound expression",
			expression: `retry_count >= 3 && dlq_reason == "retries exhausted"`,
			want:       true,
		},
		{
			name:       "membership check",
			expression: `"currency" in payload && payload.currency == "EUR"`,
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.EvaluateFilter(context.Background(), tt.expression, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateFilterNilPayload(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	env := models.CommandEnvelope{EventID: "evt-2", Family: models.FamilyInvoice}

	got, err := evaluator.EvaluateFilter(context.Background(), `size(payload) == 0`, env)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestValidateFilterExpression(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, evaluator.ValidateFilterExpression(`family == "invoice"`))
	assert.Error(t, evaluator.ValidateFilterExpression(`family ==`), "syntax error")
	assert.Error(t, evaluator.ValidateFilterExpression(`subject`), "non-boolean output")
	assert.Error(t, evaluator.ValidateFilterExpression(`unknown_var == "x"`), "undeclared variable")
}

func TestCompileFilterReuse(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	program, err := evaluator.CompileFilter(`status == "FAILED"`)
	require.NoError(t, err)

	failed := models.CommandEnvelope{EventID: "a", Status: models.StatusFailed}
	completed := models.CommandEnvelope{EventID: "b", Status: models.StatusCompleted}

	got, err := evaluator.RunFilter(context.Background(), program, failed)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = evaluator.RunFilter(context.Background(), program, completed)
	require.NoError(t, err)
	assert.False(t, got)
}
