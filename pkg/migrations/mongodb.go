package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conveyor/internal/constants"
)

// EnsureDeadLetterIndexes prepares the dead-letter archive: unique
// event_id so an envelope is archived once, plus the access paths the
// operator API lists by.
func EnsureDeadLetterIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.DeadLetterCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("idx_dead_letters_event_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "family", Value: 1}, {Key: "archived_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letters_family_archived_at"),
		},
		{
			Keys:    bson.D{{Key: "archived_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letters_archived_at"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create dead letter indexes: %w", err)
	}

	return nil
}
