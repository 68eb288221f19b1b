package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/arunika/listener/domain/entities"
	"github.com/satriahrh/arunika/listener/domain/repositories"
)

const (
	transcriptsCollection = "transcripts"
	defaultListLimit      = 100
)

type TranscriptRepository struct {
	client     *Client
	collection *mongo.Collection
}

// NewTranscriptRepository creates the repository and its session/time index
func NewTranscriptRepository(ctx context.Context, client *Client) (*TranscriptRepository, error) {
	r := &TranscriptRepository{
		client:     client,
		collection: client.Database.Collection(transcriptsCollection),
	}
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript index: %w", err)
	}
	return r, nil
}

var _ repositories.TranscriptRepository = (*TranscriptRepository)(nil)

// Append implements repositories.TranscriptRepository
func (r *TranscriptRepository) Append(ctx context.Context, transcript *entities.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}
	if transcript.ID == "" {
		return errors.New("transcript ID cannot be empty")
	}
	if err := transcript.Validate(); err != nil {
		return err
	}
	if transcript.CreatedAt.IsZero() {
		transcript.CreatedAt = time.Now().UTC()
	}

	doc := bson.M{
		"_id":        transcript.ID,
		"session_id": transcript.SessionID,
		"text":       transcript.Text,
		"kind":       transcript.Kind,
		"created_at": transcript.CreatedAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to append transcript: %w", err)
	}
	return nil
}

// ListBySession implements repositories.TranscriptRepository
func (r *TranscriptRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*entities.Transcript, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts for session %s: %w", sessionID, err)
	}
	defer cursor.Close(ctx)

	var transcripts []*entities.Transcript
	if err := cursor.All(ctx, &transcripts); err != nil {
		return nil, fmt.Errorf("failed to decode transcripts: %w", err)
	}
	return transcripts, nil
}

// DeleteOlderThan implements repositories.TranscriptRepository
func (r *TranscriptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old transcripts: %w", err)
	}
	return result.DeletedCount, nil
}

// Close disconnects the underlying client
func (r *TranscriptRepository) Close(ctx context.Context) error {
	return r.client.Close(ctx)
}
