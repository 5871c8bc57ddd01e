package dispatcher

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conveyor/internal/config"
	"conveyor/internal/deadletter"
	"conveyor/internal/logger"
	"conveyor/internal/tracking"
	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/models"
)

type fakeProducer struct {
	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	topic    string
	envelope models.CommandEnvelope
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, env models.CommandEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic: topic, envelope: env})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMessage, len(f.published))
	copy(out, f.published)
	return out
}

type statusUpdate struct {
	eventID  string
	next     models.Status
	message  string
	expected []models.Status
}

type fakeStore struct {
	mu           sync.Mutex
	updates      []statusUpdate
	retryUpdates []statusUpdate
	created      []*tracking.TrackingRecord
	updateErr    error
}

func (f *fakeStore) Create(ctx context.Context, record *tracking.TrackingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, record)
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, eventID string, next models.Status, message string, expected ...models.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, statusUpdate{eventID: eventID, next: next, message: message, expected: expected})
	return nil
}

func (f *fakeStore) UpdateRetry(ctx context.Context, eventID string, retryCount int, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryUpdates = append(f.retryUpdates, statusUpdate{eventID: eventID, next: models.StatusRetry, message: message})
	return nil
}

func (f *fakeStore) FindByEventID(ctx context.Context, eventID string) (*tracking.TrackingRecord, error) {
	return nil, nil
}

func (f *fakeStore) FindByStatus(ctx context.Context, status models.Status, limit int) ([]tracking.TrackingRecord, error) {
	return nil, nil
}

func (f *fakeStore) FindBySubject(ctx context.Context, subject string, limit int) ([]tracking.TrackingRecord, error) {
	return nil, nil
}

func (f *fakeStore) FindRecent(ctx context.Context, window time.Duration, limit int) ([]tracking.TrackingRecord, error) {
	return nil, nil
}

func (f *fakeStore) Statistics(ctx context.Context) (*tracking.Statistics, error) { return nil, nil }

func (f *fakeStore) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	return 0, nil
}

type fakeGuard struct {
	processed map[string]bool
	marked    []string
}

func (f *fakeGuard) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	return f.processed[eventID], nil
}

func (f *fakeGuard) MarkProcessed(ctx context.Context, eventID string) error {
	f.marked = append(f.marked, eventID)
	return nil
}

type fakeDeadLetterRepo struct {
	mu       sync.Mutex
	archived []deadletter.DeadLetter
}

func (f *fakeDeadLetterRepo) Archive(ctx context.Context, letter *deadletter.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, *letter)
	return nil
}

func (f *fakeDeadLetterRepo) List(ctx context.Context, query deadletter.ListQuery) ([]deadletter.DeadLetter, error) {
	return nil, nil
}

func (f *fakeDeadLetterRepo) GetByEventID(ctx context.Context, eventID string) (*deadletter.DeadLetter, error) {
	return nil, nil
}

func (f *fakeDeadLetterRepo) MarkReplayed(ctx context.Context, eventID string) error { return nil }

func (f *fakeDeadLetterRepo) Delete(ctx context.Context, eventID string) error { return nil }

func retryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		CapDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

func newTestDispatcher(store *fakeStore, guard ProcessedGuard, mainProducer, dlqProducer *fakeProducer, dlqRepo deadletter.Repository) *Dispatcher {
	log := logger.NopLogger()
	return New(models.FamilyStockOrder,
		config.BrokerConfig{Type: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "conveyor"}},
		config.DispatcherConfig{Workers: 1},
		3,
		Deps{
			Registry: NewRegistry(),
			Store:    store,
			Guard:    guard,
			Retries:  NewRetryController(mainProducer, store, retryConfig(), log),
			Sink:     deadletter.NewSink(dlqProducer, dlqRepo, log),
			Logger:   log,
		})
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	called := false
	require.NoError(t, registry.Register(models.FamilyInvoice, models.TypeGenerate,
		HandlerFunc(func(ctx context.Context, tx *sql.Tx, env *models.CommandEnvelope) error {
			called = true
			return nil
		})))

	h, ok := registry.Lookup(models.FamilyInvoice, models.TypeGenerate)
	require.True(t, ok)
	require.NoError(t, h.Handle(context.Background(), nil, &models.CommandEnvelope{}))
	assert.True(t, called)

	_, ok = registry.Lookup(models.FamilyInvoice, models.TypeMarkPaid)
	assert.False(t, ok)
}

func TestRegistryRejectsUnknownCommand(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(models.FamilyUserRegistration, models.TypeShip, HandlerFunc(nil))
	assert.Error(t, err)
}

func TestRegistryRejectsDoubleRegistration(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(models.FamilyInvoice, models.TypeGenerate, HandlerFunc(nil)))
	assert.Error(t, registry.Register(models.FamilyInvoice, models.TypeGenerate, HandlerFunc(nil)))
}

func TestDispatchAbsorbsDuplicateDelivery(t *testing.T) {
	store := &fakeStore{}
	guard := &fakeGuard{processed: map[string]bool{"evt-1": true}}
	d := newTestDispatcher(store, guard, &fakeProducer{}, &fakeProducer{}, &fakeDeadLetterRepo{})

	env := models.CommandEnvelope{EventID: "evt-1", Family: models.FamilyStockOrder, Type: models.TypeCreate}
	require.NoError(t, d.Dispatch(context.Background(), env))

	assert.Empty(t, store.updates, "duplicate must not touch the tracking store")
}

func TestDispatchSkipsUnclaimableRecord(t *testing.T) {
	store := &fakeStore{updateErr: pkgerrors.ErrNotFound.WithMessage("already terminal")}
	guard := &fakeGuard{processed: map[string]bool{}}
	d := newTestDispatcher(store, guard, &fakeProducer{}, &fakeProducer{}, &fakeDeadLetterRepo{})

	env := models.CommandEnvelope{EventID: "evt-2", Family: models.FamilyStockOrder, Type: models.TypeCreate}
	assert.NoError(t, d.Dispatch(context.Background(), env))

	// A missing row is recreated once before the claim is given up on.
	require.Len(t, store.created, 1)
	assert.Equal(t, "evt-2", store.created[0].EventID)
}

func TestFailSchedulesRetryForRetryableError(t *testing.T) {
	store := &fakeStore{}
	retryProducer := &fakeProducer{}
	dlqProducer := &fakeProducer{}
	dlqRepo := &fakeDeadLetterRepo{}
	d := newTestDispatcher(store, &fakeGuard{processed: map[string]bool{}}, retryProducer, dlqProducer, dlqRepo)

	env := models.CommandEnvelope{
		EventID:    "evt-3",
		Family:     models.FamilyStockOrder,
		Type:       models.TypeCreate,
		RetryCount: 1,
		MaxRetries: 3,
	}

	err := d.fail(context.Background(), env, pkgerrors.ErrTransient.WithMessage("db timeout"))
	require.NoError(t, err)

	msgs := retryProducer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "stock-order-topic.retry", msgs[0].topic)
	assert.Equal(t, 2, msgs[0].envelope.RetryCount)
	assert.Equal(t, models.StatusRetry, msgs[0].envelope.Status)
	assert.True(t, msgs[0].envelope.NotBefore.After(time.Now()))

	require.Len(t, store.retryUpdates, 1)
	assert.Empty(t, dlqRepo.archived)
}

func TestFailDeadLettersFatalError(t *testing.T) {
	store := &fakeStore{}
	retryProducer := &fakeProducer{}
	dlqProducer := &fakeProducer{}
	dlqRepo := &fakeDeadLetterRepo{}
	d := newTestDispatcher(store, &fakeGuard{processed: map[string]bool{}}, retryProducer, dlqProducer, dlqRepo)

	env := models.CommandEnvelope{
		EventID:    "evt-4",
		Family:     models.FamilyStockOrder,
		Type:       models.TypeCreate,
		RetryCount: 0,
		MaxRetries: 3,
	}

	err := d.fail(context.Background(), env, pkgerrors.ErrValidation.WithMessage("unknown product"))
	require.NoError(t, err)

	assert.Empty(t, retryProducer.messages(), "fatal error must not be retried")

	require.Len(t, store.updates, 1)
	assert.Equal(t, models.StatusFailed, store.updates[0].next)
	assert.Equal(t, []models.Status{models.StatusProcessing}, store.updates[0].expected)

	require.Len(t, dlqRepo.archived, 1)
	assert.Equal(t, "fatal error", dlqRepo.archived[0].Reason)

	dlqMsgs := dlqProducer.messages()
	require.Len(t, dlqMsgs, 1)
	assert.Equal(t, "stock-order-topic.dlq", dlqMsgs[0].topic)
}

func TestFailDeadLettersWhenRetriesExhausted(t *testing.T) {
	store := &fakeStore{}
	retryProducer := &fakeProducer{}
	dlqRepo := &fakeDeadLetterRepo{}
	d := newTestDispatcher(store, &fakeGuard{processed: map[string]bool{}}, retryProducer, &fakeProducer{}, dlqRepo)

	env := models.CommandEnvelope{
		EventID:    "evt-5",
		Family:     models.FamilyStockOrder,
		Type:       models.TypeCreate,
		RetryCount: 3,
		MaxRetries: 3,
	}

	err := d.fail(context.Background(), env, pkgerrors.ErrTransient.WithMessage("still down"))
	require.NoError(t, err)

	assert.Empty(t, retryProducer.messages())
	require.Len(t, dlqRepo.archived, 1)
	assert.Equal(t, "retries exhausted", dlqRepo.archived[0].Reason)
	assert.Equal(t, 3, dlqRepo.archived[0].RetryCount)
}

func TestSchedulerRedispatchesAfterDelay(t *testing.T) {
	producer := &fakeProducer{}
	scheduler := NewDelayScheduler(producer, logger.NopLogger())

	env := models.CommandEnvelope{
		EventID:   "evt-6",
		Family:    models.FamilyInvoice,
		Type:      models.TypeGenerate,
		Status:    models.StatusRetry,
		NotBefore: time.Now().Add(30 * time.Millisecond),
	}

	scheduler.Add(context.Background(), env)
	assert.Empty(t, producer.messages(), "envelope must not be redispatched before NotBefore")

	assert.Eventually(t, func() bool {
		return len(producer.messages()) == 1
	}, time.Second, 10*time.Millisecond)

	msgs := producer.messages()
	assert.Equal(t, "invoice-topic", msgs[0].topic)
}

func TestSchedulerRedispatchesImmediatelyWhenDue(t *testing.T) {
	producer := &fakeProducer{}
	scheduler := NewDelayScheduler(producer, logger.NopLogger())

	env := models.CommandEnvelope{
		EventID:   "evt-7",
		Family:    models.FamilyInvoice,
		Type:      models.TypeGenerate,
		NotBefore: time.Now().Add(-time.Second),
	}

	scheduler.Add(context.Background(), env)
	require.Len(t, producer.messages(), 1)
}

func TestSchedulerStopFlushesPendingEnvelopes(t *testing.T) {
	producer := &fakeProducer{}
	scheduler := NewDelayScheduler(producer, logger.NopLogger())

	env := models.CommandEnvelope{
		EventID:   "evt-8",
		Family:    models.FamilyStockControl,
		Type:      models.TypeCheck,
		NotBefore: time.Now().Add(time.Hour),
	}

	scheduler.Add(context.Background(), env)
	scheduler.Stop()

	assert.Eventually(t, func() bool {
		return len(producer.messages()) == 1
	}, time.Second, 10*time.Millisecond)
}
