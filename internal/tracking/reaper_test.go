package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conveyor/internal/constants"
	"conveyor/internal/logger"
	"conveyor/pkg/models"
)

type fakeStore struct {
	mu sync.Mutex

	records map[string]*TrackingRecord

	failStaleCutoff  time.Time
	failStaleMessage string
	failStaleErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*TrackingRecord)}
}

func (f *fakeStore) Create(ctx context.Context, record *TrackingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.EventID]; ok {
		return nil
	}
	cp := *record
	f.records[record.EventID] = &cp
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, eventID string, next models.Status, message string, expected ...models.Status) error {
	return nil
}

func (f *fakeStore) UpdateRetry(ctx context.Context, eventID string, retryCount int, message string) error {
	return nil
}

func (f *fakeStore) FindByEventID(ctx context.Context, eventID string) (*TrackingRecord, error) {
	return nil, nil
}

func (f *fakeStore) FindByStatus(ctx context.Context, status models.Status, limit int) ([]TrackingRecord, error) {
	return nil, nil
}

func (f *fakeStore) FindBySubject(ctx context.Context, subject string, limit int) ([]TrackingRecord, error) {
	return nil, nil
}

func (f *fakeStore) FindRecent(ctx context.Context, window time.Duration, limit int) ([]TrackingRecord, error) {
	return nil, nil
}

func (f *fakeStore) Statistics(ctx context.Context) (*Statistics, error) {
	return nil, nil
}

func (f *fakeStore) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failStaleCutoff = cutoff
	f.failStaleMessage = message

	if f.failStaleErr != nil {
		return 0, f.failStaleErr
	}

	var swept int64
	for _, r := range f.records {
		if !r.Status.IsTerminal() && r.UpdatedAt.Before(cutoff) {
			r.Status = models.StatusFailed
			r.Message = message
			swept++
		}
	}
	return swept, nil
}

func TestReaperRunOnceSweepsStaleRecords(t *testing.T) {
	store := newFakeStore()

	stale := &TrackingRecord{
		EventID:   "stale-event",
		Status:    models.StatusProcessing,
		UpdatedAt: time.Now().Add(-3 * time.Hour),
	}
	fresh := &TrackingRecord{
		EventID:   "fresh-event",
		Status:    models.StatusProcessing,
		UpdatedAt: time.Now().Add(-10 * time.Minute),
	}
	done := &TrackingRecord{
		EventID:   "done-event",
		Status:    models.StatusCompleted,
		UpdatedAt: time.Now().Add(-3 * time.Hour),
	}
	require.NoError(t, store.Create(context.Background(), stale))
	require.NoError(t, store.Create(context.Background(), fresh))
	require.NoError(t, store.Create(context.Background(), done))

	reaper := NewReaper(store, time.Hour, 2*time.Hour, logger.NopLogger())

	swept, err := reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	assert.Equal(t, models.StatusFailed, store.records["stale-event"].Status)
	assert.Equal(t, constants.ReaperTimeoutMessage, store.records["stale-event"].Message)
	assert.Equal(t, models.StatusProcessing, store.records["fresh-event"].Status)
	assert.Equal(t, models.StatusCompleted, store.records["done-event"].Status)
}

func TestReaperRunOncePropagatesStoreError(t *testing.T) {
	store := newFakeStore()
	store.failStaleErr = errors.New("connection refused")

	reaper := NewReaper(store, time.Hour, 2*time.Hour, logger.NopLogger())

	_, err := reaper.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestReaperUsesConfiguredCutoff(t *testing.T) {
	store := newFakeStore()
	reaper := NewReaper(store, time.Hour, 30*time.Minute, logger.NopLogger())

	before := time.Now().Add(-30 * time.Minute)
	_, err := reaper.RunOnce(context.Background())
	require.NoError(t, err)

	assert.WithinDuration(t, before, store.failStaleCutoff, 5*time.Second)
	assert.Equal(t, constants.ReaperTimeoutMessage, store.failStaleMessage)
}

func TestReaperDefaultsWhenUnconfigured(t *testing.T) {
	reaper := NewReaper(newFakeStore(), 0, 0, logger.NopLogger())

	assert.Equal(t, constants.DefaultReaperInterval, reaper.interval)
	assert.Equal(t, constants.DefaultStaleCutoff, reaper.staleCutoff)
}

func TestReaperRunStopsOnContextCancel(t *testing.T) {
	reaper := NewReaper(newFakeStore(), 10*time.Millisecond, time.Hour, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- reaper.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
