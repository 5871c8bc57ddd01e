package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conveyor/internal/constants"
	"conveyor/pkg/cel"
	pkgerrors "conveyor/pkg/errors"
)

type Repository interface {
	Archive(ctx context.Context, letter *DeadLetter) error
	List(ctx context.Context, query ListQuery) ([]DeadLetter, error)
	GetByEventID(ctx context.Context, eventID string) (*DeadLetter, error)
	MarkReplayed(ctx context.Context, eventID string) error
	Delete(ctx context.Context, eventID string) error
}

type MongoDBRepository struct {
	collection *mongo.Collection
	evaluator  *cel.Evaluator
}

func NewRepository(db *mongo.Database, evaluator *cel.Evaluator) Repository {
	return &MongoDBRepository{
		collection: db.Collection(constants.DeadLetterCollection),
		evaluator:  evaluator,
	}
}

func (r *MongoDBRepository) Archive(ctx context.Context, letter *DeadLetter) error {
	if letter.ID == "" {
		letter.ID = primitive.NewObjectID().Hex()
	}
	if letter.ArchivedAt.IsZero() {
		letter.ArchivedAt = time.Now()
	}

	_, err := r.collection.InsertOne(ctx, letter)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Same envelope dead-lettered twice; the first archive wins.
			return nil
		}
		return fmt.Errorf("failed to archive dead letter: %w", err)
	}

	return nil
}

func (r *MongoDBRepository) List(ctx context.Context, query ListQuery) ([]DeadLetter, error) {
	filter := bson.M{}
	if query.Family != "" {
		filter["family"] = query.Family
	}

	limit := query.Limit
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "archived_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var letters []DeadLetter
	if err := cursor.All(ctx, &letters); err != nil {
		return nil, fmt.Errorf("failed to decode dead letters: %w", err)
	}

	if query.Filter == "" {
		return letters, nil
	}

	return r.applyFilter(ctx, letters, query.Filter)
}

// applyFilter narrows the Mongo result set with a CEL predicate. Payloads
// are schemaless maps, so the match cannot be pushed into the Mongo query.
func (r *MongoDBRepository) applyFilter(ctx context.Context, letters []DeadLetter, expression string) ([]DeadLetter, error) {
	program, err := r.evaluator.CompileFilter(expression)
	if err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("invalid filter expression")
	}

	filtered := make([]DeadLetter, 0, len(letters))
	for _, letter := range letters {
		match, err := r.evaluator.RunFilter(ctx, program, letter.Envelope)
		if err != nil {
			return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("filter evaluation failed")
		}
		if match {
			filtered = append(filtered, letter)
		}
	}

	return filtered, nil
}

func (r *MongoDBRepository) GetByEventID(ctx context.Context, eventID string) (*DeadLetter, error) {
	var letter DeadLetter
	err := r.collection.FindOne(ctx, bson.M{"event_id": eventID}).Decode(&letter)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("no dead letter for event %s", eventID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	return &letter, nil
}

func (r *MongoDBRepository) MarkReplayed(ctx context.Context, eventID string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"event_id": eventID},
		bson.M{"$set": bson.M{"replayed_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark dead letter replayed: %w", err)
	}
	if res.MatchedCount == 0 {
		return pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("no dead letter for event %s", eventID))
	}

	return nil
}

func (r *MongoDBRepository) Delete(ctx context.Context, eventID string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"event_id": eventID})
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	if res.DeletedCount == 0 {
		return pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("no dead letter for event %s", eventID))
	}

	return nil
}
