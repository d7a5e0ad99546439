package song

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"
)

const recentPracticeLimit = 10

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Detail is the structured record the prompt builder consumes: the song plus
// its directly related collections.
type Detail struct {
	Song     Song
	Sections []Section
	Chords   []Chord
	// Practice is optional context: it degrades to empty when the load
	// fails instead of failing the request.
	Practice []PracticeSession
}

// GetDetail loads a song and its related collections, scoped to userID.
// A song that does not exist or belongs to another user is
// gorm.ErrRecordNotFound either way, so existence is never leaked across
// tenants.
func (r *Repo) GetDetail(ctx context.Context, songID, userID uint64) (*Detail, error) {
	var s Song
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", songID, userID).
		First(&s).Error; err != nil {
		return nil, err
	}

	d := &Detail{Song: s}

	if err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("position ASC, id ASC").
		Find(&d.Sections).Error; err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("position ASC, id ASC").
		Find(&d.Chords).Error; err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).
		Where("song_id = ? AND user_id = ?", songID, userID).
		Order("practiced_at DESC").
		Limit(recentPracticeLimit).
		Find(&d.Practice).Error; err != nil {
		log.Printf("song: practice history load failed song=%d err=%v", songID, err)
		d.Practice = nil
	}

	return d, nil
}

// Exists reports whether the song exists and is owned by userID, without
// loading its collections.
func (r *Repo) Exists(ctx context.Context, songID, userID uint64) error {
	var s Song
	return r.db.WithContext(ctx).
		Select("id").
		Where("id = ? AND user_id = ?", songID, userID).
		First(&s).Error
}

// GetSection returns one section of a song. The caller must already have
// verified song ownership.
func (r *Repo) GetSection(ctx context.Context, sectionID, songID uint64) (*Section, error) {
	var sec Section
	if err := r.db.WithContext(ctx).
		Where("id = ? AND song_id = ?", sectionID, songID).
		First(&sec).Error; err != nil {
		return nil, err
	}
	return &sec, nil
}

// PracticeEntry is one recent practice session joined with its song title,
// used by the practice-insights prompt.
type PracticeEntry struct {
	SongTitle       string
	DurationMinutes int
	Rating          int
	Notes           string
	PracticedAt     time.Time
}

// ListRecentPractice returns the user's most recent practice sessions across
// all of their songs, newest first.
func (r *Repo) ListRecentPractice(ctx context.Context, userID uint64, limit int) ([]PracticeEntry, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	var rows []struct {
		Title           string
		DurationMinutes int
		Rating          int
		Notes           string
		PracticedAt     time.Time
	}
	err := r.db.WithContext(ctx).
		Table("practice_sessions").
		Select("songs.title AS title, practice_sessions.duration_minutes, practice_sessions.rating, practice_sessions.notes, practice_sessions.practiced_at").
		Joins("JOIN songs ON songs.id = practice_sessions.song_id").
		Where("practice_sessions.user_id = ?", userID).
		Order("practice_sessions.practiced_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]PracticeEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, PracticeEntry{
			SongTitle:       row.Title,
			DurationMinutes: row.DurationMinutes,
			Rating:          row.Rating,
			Notes:           row.Notes,
			PracticedAt:     row.PracticedAt,
		})
	}
	return out, nil
}
