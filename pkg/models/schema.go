package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateCommandEnvelope checks structural completeness only; payload
// semantics belong to the registered handler.
func ValidateCommandEnvelope(env *CommandEnvelope) error {
	if env == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "command envelope cannot be nil",
		}
	}

	if env.EventID == "" {
		return &ValidationError{
			Field:   "event_id",
			Message: "event ID is required",
		}
	}

	if _, ok := ParseFamily(string(env.Family)); !ok {
		return &ValidationError{
			Field:   "family",
			Message: fmt.Sprintf("unknown command family: %s", env.Family),
		}
	}

	if !ValidCommand(env.Family, env.Type) {
		return &ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unknown command type %s for family %s", env.Type, env.Family),
		}
	}

	if env.Subject == "" {
		return &ValidationError{
			Field:   "subject",
			Message: "subject is required for tracking",
		}
	}

	if env.CreatedAt.IsZero() {
		return &ValidationError{
			Field:   "created_at",
			Message: "creation timestamp is required",
		}
	}

	return nil
}

func (env *CommandEnvelope) GetPayloadField(name string) (interface{}, bool) {
	if env.Payload == nil {
		return nil, false
	}

	value, ok := env.Payload[name]
	return value, ok
}

func (env *CommandEnvelope) SetPayloadField(name string, value interface{}) {
	if env.Payload == nil {
		env.Payload = make(map[string]interface{})
	}

	env.Payload[name] = value
}
