package models

import "time"

type CommandEnvelopeBuilder struct {
	envelope *CommandEnvelope
}

func NewCommandEnvelopeBuilder() *CommandEnvelopeBuilder {
	return &CommandEnvelopeBuilder{
		envelope: &CommandEnvelope{
			Payload:  make(map[string]interface{}),
			Status:   StatusPending,
			Metadata: Metadata{},
		},
	}
}

func (b *CommandEnvelopeBuilder) WithEventID(id string) *CommandEnvelopeBuilder {
	b.envelope.EventID = id
	return b
}

func (b *CommandEnvelopeBuilder) WithCommand(family Family, cmdType CommandType) *CommandEnvelopeBuilder {
	b.envelope.Family = family
	b.envelope.Type = cmdType
	return b
}

func (b *CommandEnvelopeBuilder) WithSubject(subject string) *CommandEnvelopeBuilder {
	b.envelope.Subject = subject
	return b
}

func (b *CommandEnvelopeBuilder) WithPayload(payload map[string]interface{}) *CommandEnvelopeBuilder {
	b.envelope.Payload = payload
	return b
}

func (b *CommandEnvelopeBuilder) WithMaxRetries(n int) *CommandEnvelopeBuilder {
	b.envelope.MaxRetries = n
	return b
}

func (b *CommandEnvelopeBuilder) WithTraceID(traceID string) *CommandEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *CommandEnvelopeBuilder) Build() *CommandEnvelope {
	if b.envelope.CreatedAt.IsZero() {
		b.envelope.CreatedAt = time.Now()
	}
	return b.envelope
}
