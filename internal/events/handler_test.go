package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conveyor/internal/deadletter"
	"conveyor/internal/logger"
	"conveyor/internal/tracking"
	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/models"
)

type fakeService struct {
	records     map[string]*tracking.TrackingRecord
	statistics  *tracking.Statistics
	deadLetters map[string]*deadletter.DeadLetter
	swept       int64
}

func newFakeService() *fakeService {
	return &fakeService{
		records:     make(map[string]*tracking.TrackingRecord),
		deadLetters: make(map[string]*deadletter.DeadLetter),
	}
}

func (f *fakeService) Statistics(ctx context.Context) (*tracking.Statistics, error) {
	return f.statistics, nil
}

func (f *fakeService) Recent(ctx context.Context) ([]tracking.TrackingRecord, error) {
	var out []tracking.TrackingRecord
	for _, r := range f.records {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeService) ByStatus(ctx context.Context, status string) ([]tracking.TrackingRecord, error) {
	parsed, ok := models.ParseStatus(status)
	if !ok {
		return nil, pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("invalid status '%s'", status))
	}
	var out []tracking.TrackingRecord
	for _, r := range f.records {
		if r.Status == parsed {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeService) BySubject(ctx context.Context, subject string) ([]tracking.TrackingRecord, error) {
	var out []tracking.TrackingRecord
	for _, r := range f.records {
		if r.Subject == subject {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeService) ForceComplete(ctx context.Context, eventID, message string) (*tracking.TrackingRecord, error) {
	record, ok := f.records[eventID]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithMessage("no tracking record")
	}
	if record.Status.IsTerminal() {
		return nil, pkgerrors.ErrConflict.WithMessage("already terminal")
	}
	record.Status = models.StatusCompleted
	record.Message = message
	return record, nil
}

func (f *fakeService) Cleanup(ctx context.Context) (int64, error) {
	return f.swept, nil
}

func (f *fakeService) Enqueue(ctx context.Context, req EnqueueRequest) (*models.CommandEnvelope, error) {
	family, ok := models.ParseFamily(req.Family)
	if !ok {
		return nil, pkgerrors.ErrValidation.WithMessage("unknown family")
	}
	if !models.ValidCommand(family, models.CommandType(req.Type)) {
		return nil, pkgerrors.ErrValidation.WithMessage("unknown command type")
	}
	return &models.CommandEnvelope{EventID: "generated-id", Status: models.StatusPending}, nil
}

func (f *fakeService) ListDeadLetters(ctx context.Context, family, filter string, limit int) ([]deadletter.DeadLetter, error) {
	var out []deadletter.DeadLetter
	for _, l := range f.deadLetters {
		if family == "" || l.Family == family {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeService) GetDeadLetter(ctx context.Context, eventID string) (*deadletter.DeadLetter, error) {
	letter, ok := f.deadLetters[eventID]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithMessage("no dead letter")
	}
	return letter, nil
}

func (f *fakeService) ReplayDeadLetter(ctx context.Context, eventID string) (*deadletter.DeadLetter, error) {
	letter, ok := f.deadLetters[eventID]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithMessage("no dead letter")
	}
	now := time.Now()
	letter.ReplayedAt = &now
	return letter, nil
}

func (f *fakeService) DiscardDeadLetter(ctx context.Context, eventID string) error {
	if _, ok := f.deadLetters[eventID]; !ok {
		return pkgerrors.ErrNotFound.WithMessage("no dead letter")
	}
	delete(f.deadLetters, eventID)
	return nil
}

func setupRouter(service Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(service, logger.NopLogger()).RegisterRoutes(router)
	return router
}

func TestGetStatistics(t *testing.T) {
	service := newFakeService()
	service.statistics = &tracking.Statistics{Total: 10, Completed: 8, Failed: 2, SuccessRate: 80}
	router := setupRouter(service)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/statistics", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var stats tracking.Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, float64(80), stats.SuccessRate)
}

func TestGetByStatusRejectsInvalidStatus(t *testing.T) {
	router := setupRouter(newFakeService())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/status/BOGUS", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetByStatusReturnsMatches(t *testing.T) {
	service := newFakeService()
	service.records["evt-1"] = &tracking.TrackingRecord{EventID: "evt-1", Status: models.StatusFailed}
	service.records["evt-2"] = &tracking.TrackingRecord{EventID: "evt-2", Status: models.StatusCompleted}
	router := setupRouter(service)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/status/FAILED", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var records []tracking.TrackingRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "evt-1", records[0].EventID)
}

func TestCompleteEventUnknownReturns404(t *testing.T) {
	router := setupRouter(newFakeService())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/events/missing/complete", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompleteEventTerminalReturns409(t *testing.T) {
	service := newFakeService()
	service.records["evt-1"] = &tracking.TrackingRecord{EventID: "evt-1", Status: models.StatusCompleted}
	router := setupRouter(service)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/events/evt-1/complete", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCompleteEventSetsMessage(t *testing.T) {
	service := newFakeService()
	service.records["evt-1"] = &tracking.TrackingRecord{EventID: "evt-1", Status: models.StatusProcessing}
	router := setupRouter(service)

	body, _ := json.Marshal(CompleteRequest{Message: "resolved manually"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/events/evt-1/complete", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var record tracking.TrackingRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, models.StatusCompleted, record.Status)
	assert.Equal(t, "resolved manually", record.Message)
}

func TestCleanupReportsSweptCount(t *testing.T) {
	service := newFakeService()
	service.swept = 4
	router := setupRouter(service)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/cleanup", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp CleanupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(4), resp.Swept)
}

func TestEnqueueAcceptsValidCommand(t *testing.T) {
	router := setupRouter(newFakeService())

	body, _ := json.Marshal(EnqueueRequest{
		Family:  "stock-order",
		Type:    "CREATE",
		Subject: "user-42",
		Payload: map[string]interface{}{"product_id": "p-1", "quantity": 2},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/enqueue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp EnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "generated-id", resp.EventID)
	assert.Equal(t, string(models.StatusPending), resp.Status)
}

func TestEnqueueRejectsMissingFields(t *testing.T) {
	router := setupRouter(newFakeService())

	body := []byte(`{"family": "stock-order"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/enqueue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueRejectsUnknownFamily(t *testing.T) {
	router := setupRouter(newFakeService())

	body, _ := json.Marshal(EnqueueRequest{Family: "nope", Type: "CREATE", Subject: "s"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/enqueue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeadLetterLifecycle(t *testing.T) {
	service := newFakeService()
	service.deadLetters["evt-9"] = &deadletter.DeadLetter{
		EventID: "evt-9",
		Family:  "invoice",
		Reason:  "retries exhausted",
	}
	router := setupRouter(service)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/deadletters?family=invoice", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var letters []deadletter.DeadLetter
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &letters))
	require.Len(t, letters, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/deadletters/evt-9/replay", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var replayed deadletter.DeadLetter
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replayed))
	assert.NotNil(t, replayed.ReplayedAt)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/deadletters/evt-9", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/deadletters/evt-9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDeadLettersRejectsBadLimit(t *testing.T) {
	router := setupRouter(newFakeService())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/deadletters?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
