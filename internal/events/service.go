package events

import (
	"context"
	"fmt"

	"conveyor/internal/constants"
	"conveyor/internal/deadletter"
	"conveyor/internal/logger"
	"conveyor/internal/producer"
	"conveyor/internal/tracking"
	pkgerrors "conveyor/pkg/errors"
	"conveyor/pkg/models"
)

// Service exposes the operator surface over the command pipeline: the
// tracking ledger, manual interventions, and the dead-letter archive.
type Service interface {
	Statistics(ctx context.Context) (*tracking.Statistics, error)
	Recent(ctx context.Context) ([]tracking.TrackingRecord, error)
	ByStatus(ctx context.Context, status string) ([]tracking.TrackingRecord, error)
	BySubject(ctx context.Context, subject string) ([]tracking.TrackingRecord, error)
	ForceComplete(ctx context.Context, eventID, message string) (*tracking.TrackingRecord, error)
	Cleanup(ctx context.Context) (int64, error)
	Enqueue(ctx context.Context, req EnqueueRequest) (*models.CommandEnvelope, error)

	ListDeadLetters(ctx context.Context, family, filter string, limit int) ([]deadletter.DeadLetter, error)
	GetDeadLetter(ctx context.Context, eventID string) (*deadletter.DeadLetter, error)
	ReplayDeadLetter(ctx context.Context, eventID string) (*deadletter.DeadLetter, error)
	DiscardDeadLetter(ctx context.Context, eventID string) error
}

type service struct {
	store    tracking.Store
	producer *producer.Producer
	letters  deadletter.Repository
	reaper   *tracking.Reaper
	logger   logger.Logger
}

func NewService(store tracking.Store, p *producer.Producer, letters deadletter.Repository, reaper *tracking.Reaper, log logger.Logger) Service {
	return &service{
		store:    store,
		producer: p,
		letters:  letters,
		reaper:   reaper,
		logger:   log,
	}
}

func (s *service) Statistics(ctx context.Context) (*tracking.Statistics, error) {
	return s.store.Statistics(ctx)
}

func (s *service) Recent(ctx context.Context) ([]tracking.TrackingRecord, error) {
	return s.store.FindRecent(ctx, constants.RecentWindow, constants.DefaultLimit)
}

func (s *service) ByStatus(ctx context.Context, status string) ([]tracking.TrackingRecord, error) {
	parsed, ok := models.ParseStatus(status)
	if !ok {
		return nil, pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("invalid status '%s'", status))
	}
	return s.store.FindByStatus(ctx, parsed, constants.DefaultLimit)
}

func (s *service) BySubject(ctx context.Context, subject string) ([]tracking.TrackingRecord, error) {
	return s.store.FindBySubject(ctx, subject, constants.DefaultLimit)
}

// ForceComplete is the operator override for a command that finished out
// of band. Only non-terminal records can be forced.
func (s *service) ForceComplete(ctx context.Context, eventID, message string) (*tracking.TrackingRecord, error) {
	if _, err := s.store.FindByEventID(ctx, eventID); err != nil {
		return nil, err
	}

	if message == "" {
		message = "manually completed by operator"
	}

	err := s.store.UpdateStatus(ctx, eventID, models.StatusCompleted, message,
		models.StatusPending, models.StatusProcessing, models.StatusRetry)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, pkgerrors.ErrConflict.WithMessage(
				fmt.Sprintf("event %s is already in a terminal status", eventID))
		}
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Event force-completed",
		"event_id", eventID,
	)

	return s.store.FindByEventID(ctx, eventID)
}

func (s *service) Cleanup(ctx context.Context) (int64, error) {
	return s.reaper.RunOnce(ctx)
}

func (s *service) Enqueue(ctx context.Context, req EnqueueRequest) (*models.CommandEnvelope, error) {
	family, ok := models.ParseFamily(req.Family)
	if !ok {
		return nil, pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("unknown command family '%s'", req.Family))
	}

	return s.producer.Enqueue(ctx, family, models.CommandType(req.Type), req.Subject, req.Payload)
}

func (s *service) ListDeadLetters(ctx context.Context, family, filter string, limit int) ([]deadletter.DeadLetter, error) {
	if family != "" {
		if _, ok := models.ParseFamily(family); !ok {
			return nil, pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("unknown command family '%s'", family))
		}
	}

	return s.letters.List(ctx, deadletter.ListQuery{Family: family, Filter: filter, Limit: limit})
}

func (s *service) GetDeadLetter(ctx context.Context, eventID string) (*deadletter.DeadLetter, error) {
	return s.letters.GetByEventID(ctx, eventID)
}

func (s *service) ReplayDeadLetter(ctx context.Context, eventID string) (*deadletter.DeadLetter, error) {
	letter, err := s.letters.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if err := s.producer.Replay(ctx, letter.Envelope); err != nil {
		return nil, err
	}

	if err := s.letters.MarkReplayed(ctx, eventID); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to mark dead letter replayed",
			"error", err,
			"event_id", eventID,
		)
	}

	return s.letters.GetByEventID(ctx, eventID)
}

func (s *service) DiscardDeadLetter(ctx context.Context, eventID string) error {
	return s.letters.Delete(ctx, eventID)
}
