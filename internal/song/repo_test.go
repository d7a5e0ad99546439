package song

import (
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Song{}, &Section{}, &Chord{}, &PracticeSession{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedSong(t *testing.T, db *gorm.DB, userID uint64, title string) Song {
	t.Helper()
	s := Song{UserID: userID, Title: title, KeySignature: "G major", Tempo: 120}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("seed song: %v", err)
	}
	return s
}

func TestGetDetail_ScopedToOwner(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	s := seedSong(t, db, 1, "Mine")

	if _, err := repo.GetDetail(ctx, s.ID, 1); err != nil {
		t.Fatalf("owner load: %v", err)
	}
	if _, err := repo.GetDetail(ctx, s.ID, 2); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign load must look like a missing record, got %v", err)
	}
	if _, err := repo.GetDetail(ctx, 9999, 1); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("missing song: got %v", err)
	}
}

func TestGetDetail_SectionsOrderedByPosition(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	s := seedSong(t, db, 1, "Ordered")
	// insert out of order on purpose
	for _, sec := range []Section{
		{SongID: s.ID, Name: "Chorus", Position: 2},
		{SongID: s.ID, Name: "Bridge", Position: 3},
		{SongID: s.ID, Name: "Verse", Position: 1},
	} {
		if err := db.Create(&sec).Error; err != nil {
			t.Fatalf("seed section: %v", err)
		}
	}

	d, err := repo.GetDetail(ctx, s.ID, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"Verse", "Chorus", "Bridge"}
	if len(d.Sections) != len(want) {
		t.Fatalf("got %d sections, want %d", len(d.Sections), len(want))
	}
	for i, name := range want {
		if d.Sections[i].Name != name {
			t.Fatalf("section %d = %s, want %s", i, d.Sections[i].Name, name)
		}
	}
}

func TestExists(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	s := seedSong(t, db, 1, "Mine")

	if err := repo.Exists(ctx, s.ID, 1); err != nil {
		t.Fatalf("owner check: %v", err)
	}
	if err := repo.Exists(ctx, s.ID, 2); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign check must hide existence, got %v", err)
	}
}

func TestGetSection_ScopedToSong(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	a := seedSong(t, db, 1, "A")
	b := seedSong(t, db, 1, "B")
	sec := Section{SongID: a.ID, Name: "Verse", Position: 1}
	if err := db.Create(&sec).Error; err != nil {
		t.Fatalf("seed section: %v", err)
	}

	got, err := repo.GetSection(ctx, sec.ID, a.ID)
	if err != nil || got.Name != "Verse" {
		t.Fatalf("section load: %+v err=%v", got, err)
	}
	if _, err := repo.GetSection(ctx, sec.ID, b.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("section of another song must not resolve, got %v", err)
	}
}

func TestListRecentPractice_JoinOrderLimit(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	a := seedSong(t, db, 1, "First Song")
	b := seedSong(t, db, 1, "Second Song")
	other := seedSong(t, db, 2, "Not Mine")

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	sessions := []PracticeSession{
		{SongID: a.ID, UserID: 1, DurationMinutes: 20, Rating: 3, PracticedAt: base},
		{SongID: b.ID, UserID: 1, DurationMinutes: 30, Rating: 4, PracticedAt: base.Add(24 * time.Hour)},
		{SongID: a.ID, UserID: 1, DurationMinutes: 15, Rating: 5, PracticedAt: base.Add(48 * time.Hour)},
		{SongID: other.ID, UserID: 2, DurationMinutes: 60, Rating: 1, PracticedAt: base.Add(72 * time.Hour)},
	}
	for i := range sessions {
		if err := db.Create(&sessions[i]).Error; err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}

	entries, err := repo.ListRecentPractice(ctx, 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want limit 2", len(entries))
	}
	if entries[0].SongTitle != "First Song" || entries[0].DurationMinutes != 15 {
		t.Fatalf("newest entry wrong: %+v", entries[0])
	}
	if entries[1].SongTitle != "Second Song" {
		t.Fatalf("second entry wrong: %+v", entries[1])
	}
	for _, e := range entries {
		if e.SongTitle == "Not Mine" {
			t.Fatalf("another user's practice leaked into the list")
		}
	}
}
