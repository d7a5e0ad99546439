package assist

import (
	"context"
	"errors"
	"fmt"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/fretwise/fretwise/internal/song"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&Conversation{}, &Turn{}, &AnalysisJob{},
		&song.Song{}, &song.Section{}, &song.Chord{}, &song.PracticeSession{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGetOrCreate_NewConversation(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	conv, err := repo.GetOrCreate(ctx, 1, "", "fake", "default", "system prompt")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if len(conv.ConversationID) != 26 {
		t.Fatalf("expected ULID conversation id, got %q", conv.ConversationID)
	}
	if conv.SystemPrompt != "system prompt" {
		t.Fatalf("unexpected system prompt: %q", conv.SystemPrompt)
	}

	again, err := repo.GetOrCreate(ctx, 1, conv.ConversationID, "fake", "default", "a different prompt")
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	// snapshot semantics: the stored prompt wins over anything recomputed
	if again.SystemPrompt != "system prompt" {
		t.Fatalf("existing conversation must keep its prompt snapshot, got %q", again.SystemPrompt)
	}
}

func TestGetOrCreate_ForeignOwnerHidden(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	conv, err := repo.GetOrCreate(ctx, 1, "", "fake", "default", "sp")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := repo.GetOrCreate(ctx, 2, conv.ConversationID, "fake", "default", ""); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found for foreign owner, got %v", err)
	}
	if _, err := repo.AppendUserTurn(ctx, 2, conv.ConversationID, "hi"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected append to reject foreign owner, got %v", err)
	}
}

func TestRecentWindow_BoundAndOrder(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	conv, err := repo.GetOrCreate(ctx, 1, "", "fake", "default", "sp")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 7; i++ {
		content := fmt.Sprintf("msg-%d", i)
		if i%2 == 0 {
			_, err = repo.AppendUserTurn(ctx, 1, conv.ConversationID, content)
		} else {
			_, err = repo.AppendAssistantTurn(ctx, 1, conv.ConversationID, content)
		}
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	window, err := repo.RecentWindow(ctx, 1, conv.ConversationID, 3)
	if err != nil {
		t.Fatalf("recent window: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(window))
	}
	for i, want := range []string{"msg-4", "msg-5", "msg-6"} {
		if window[i].Content != want {
			t.Fatalf("window[%d] = %q, want %q", i, window[i].Content, want)
		}
	}
}

func TestDelete_RemovesConversationAndTurns(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	conv, err := repo.GetOrCreate(ctx, 1, "", "fake", "default", "sp")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.AppendUserTurn(ctx, 1, conv.ConversationID, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := repo.Delete(ctx, 2, conv.ConversationID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected delete to reject foreign owner, got %v", err)
	}
	if err := repo.Delete(ctx, 1, conv.ConversationID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var turnCount int64
	if err := db.Model(&Turn{}).Where("conversation_id = ?", conv.ConversationID).Count(&turnCount).Error; err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if turnCount != 0 {
		t.Fatalf("expected turns deleted, got %d left", turnCount)
	}

	if _, err := repo.AppendUserTurn(ctx, 1, conv.ConversationID, "zombie"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected append after delete to fail, got %v", err)
	}
}

func TestCreateJobOrGetExisting_Idempotent(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	key := "retry-key-1"
	first := &AnalysisJob{ID: "01JOBAAAAAAAAAAAAAAAAAAAAA", UserID: 1, SongID: 7, Focus: "harmony", IdempotencyKey: &key, Status: JobQueued}
	got, created, err := repo.CreateJobOrGetExisting(ctx, first)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	second := &AnalysisJob{ID: "01JOBBBBBBBBBBBBBBBBBBBBBB", UserID: 1, SongID: 7, Focus: "harmony", IdempotencyKey: &key, Status: JobQueued}
	existing, created, err := repo.CreateJobOrGetExisting(ctx, second)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("expected second create to return the existing job")
	}
	if existing.ID != got.ID {
		t.Fatalf("expected job id %s, got %s", got.ID, existing.ID)
	}
}
