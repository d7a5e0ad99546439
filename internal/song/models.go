package song

import "time"

type Song struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        uint64    `gorm:"index;not null" json:"-"`
	Title         string    `gorm:"type:varchar(255);not null" json:"title"`
	Artist        string    `gorm:"type:varchar(255)" json:"artist"`
	KeySignature  string    `gorm:"type:varchar(16)" json:"key_signature"`
	Tempo         int       `json:"tempo"`
	TimeSignature string    `gorm:"type:varchar(8)" json:"time_signature"`
	Notes         string    `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Song) TableName() string { return "songs" }

type Section struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SongID    uint64    `gorm:"index;not null" json:"song_id"`
	Name      string    `gorm:"type:varchar(64);not null" json:"name"`
	Position  int       `gorm:"not null" json:"position"`
	Lyrics    string    `gorm:"type:text" json:"lyrics"`
	CreatedAt time.Time `json:"created_at"`
}

func (Section) TableName() string { return "song_sections" }

type Chord struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	SongID    uint64  `gorm:"index;not null" json:"song_id"`
	SectionID *uint64 `gorm:"index" json:"section_id"`
	Name      string  `gorm:"type:varchar(16);not null" json:"name"`
	Position  int     `gorm:"not null" json:"position"`
}

func (Chord) TableName() string { return "song_chords" }

type PracticeSession struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SongID          uint64    `gorm:"index;not null" json:"song_id"`
	UserID          uint64    `gorm:"index;not null" json:"-"`
	DurationMinutes int       `json:"duration_minutes"`
	Rating          int       `json:"rating"` // self-assessed 1..5
	Notes           string    `gorm:"type:text" json:"notes"`
	PracticedAt     time.Time `gorm:"index" json:"practiced_at"`
}

func (PracticeSession) TableName() string { return "practice_sessions" }
