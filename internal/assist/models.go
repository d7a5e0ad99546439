package assist

import "time"

// Conversation is one multi-turn assistant conversation. SystemPrompt is the
// grounding context computed once at creation and never recomputed: grounding
// is a snapshot, not a live view of the song data.
type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"conversation_id"`
	UserID         uint64    `gorm:"index;not null" json:"-"`
	Provider       string    `gorm:"type:varchar(32);not null" json:"provider"`
	Model          string    `gorm:"type:varchar(64);not null" json:"model"`
	SystemPrompt   string    `gorm:"type:text;not null" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "assist_conversations" }

// Turn is one message in a conversation. Turns are append-only; the
// auto-increment id is the insertion order and the only ordering guarantee.
type Turn struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:varchar(26);not null;index:idx_turn_user_conv,priority:2" json:"conversation_id"`
	UserID         uint64    `gorm:"not null;index:idx_turn_user_conv,priority:1" json:"-"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Turn) TableName() string { return "assist_turns" }
