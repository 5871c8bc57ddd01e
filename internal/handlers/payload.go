package handlers

import (
	"fmt"

	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/models"
)

// Payload fields arrive as generic JSON values; these helpers convert
// them and turn anything malformed into a terminal validation error.

func stringField(env *models.CommandEnvelope, name string) (string, error) {
	value, ok := env.GetPayloadField(name)
	if !ok {
		return "", pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("payload field '%s' is required", name))
	}
	s, ok := value.(string)
	if !ok || s == "" {
		return "", pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("payload field '%s' must be a non-empty string", name))
	}
	return s, nil
}

func optionalStringField(env *models.CommandEnvelope, name, fallback string) string {
	value, ok := env.GetPayloadField(name)
	if !ok {
		return fallback
	}
	if s, ok := value.(string); ok && s != "" {
		return s
	}
	return fallback
}

func numberField(env *models.CommandEnvelope, name string) (float64, error) {
	value, ok := env.GetPayloadField(name)
	if !ok {
		return 0, pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("payload field '%s' is required", name))
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("payload field '%s' must be a number", name))
}

func intField(env *models.CommandEnvelope, name string) (int, error) {
	f, err := numberField(env, name)
	if err != nil {
		return 0, err
	}
	n := int(f)
	if float64(n) != f {
		return 0, pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("payload field '%s' must be an integer", name))
	}
	return n, nil
}

func positiveIntField(env *models.CommandEnvelope, name string) (int, error) {
	n, err := intField(env, name)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("payload field '%s' must be positive", name))
	}
	return n, nil
}
