package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/domain/entities"
)

// Requires a running MongoDB instance; skipped unless MONGODB_URI is set
func TestTranscriptRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, mongoURI, "listener_test", zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		client.Database.Drop(ctx)
		client.Close(ctx)
	}()

	repo, err := NewTranscriptRepository(ctx, client)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, text := range []string{"first", "second", "third"} {
		err := repo.Append(ctx, &entities.Transcript{
			ID:        text,
			SessionID: "session-1",
			Text:      text,
			Kind:      entities.TranscriptKindSegment,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Failed to append transcript: %v", err)
		}
	}

	t.Run("ListBySession", func(t *testing.T) {
		list, err := repo.ListBySession(ctx, "session-1", 2)
		if err != nil {
			t.Fatalf("Failed to list transcripts: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("Expected 2 transcripts, got %d", len(list))
		}
		if list[0].Text != "first" || list[1].Text != "second" {
			t.Errorf("Expected oldest first, got %q, %q", list[0].Text, list[1].Text)
		}
	})

	t.Run("AppendRejectsEmptyText", func(t *testing.T) {
		err := repo.Append(ctx, &entities.Transcript{ID: "x", SessionID: "session-1"})
		if err == nil {
			t.Error("Expected validation error")
		}
	})

	t.Run("DeleteOlderThan", func(t *testing.T) {
		deleted, err := repo.DeleteOlderThan(ctx, base.Add(1500*time.Millisecond))
		if err != nil {
			t.Fatalf("Failed to delete transcripts: %v", err)
		}
		if deleted != 2 {
			t.Errorf("Expected 2 deleted, got %d", deleted)
		}
	})
}
