package assist

import (
	"context"

	"gorm.io/gorm"

	"github.com/fretwise/fretwise/internal/common"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// GetConversation returns the conversation owned by userID. Missing and
// foreign-owner both map to gorm.ErrRecordNotFound so existence is hidden.
func (r *Repo) GetConversation(ctx context.Context, userID uint64, conversationID string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&c).Error; err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

// GetOrCreate returns the caller's existing conversation, or creates a fresh
// one with a new id and the given system prompt snapshot when conversationID
// is empty.
func (r *Repo) GetOrCreate(ctx context.Context, userID uint64, conversationID, provider, model, systemPrompt string) (*Conversation, error) {
	if conversationID != "" {
		return r.GetConversation(ctx, userID, conversationID)
	}

	cid, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	c := &Conversation{
		ConversationID: cid,
		UserID:         userID,
		Provider:       provider,
		Model:          model,
		SystemPrompt:   systemPrompt,
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repo) appendTurn(ctx context.Context, userID uint64, conversationID, role, content string) (*Turn, error) {
	// ownership check keeps appends from resurrecting deleted or foreign
	// conversations
	if _, err := r.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	t := &Turn{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Repo) AppendUserTurn(ctx context.Context, userID uint64, conversationID, content string) (*Turn, error) {
	return r.appendTurn(ctx, userID, conversationID, "user", content)
}

func (r *Repo) AppendAssistantTurn(ctx context.Context, userID uint64, conversationID, content string) (*Turn, error) {
	return r.appendTurn(ctx, userID, conversationID, "assistant", content)
}

// RecentWindow returns the last n turns in insertion order (oldest first).
// This bounds what is sent upstream as conversations grow.
func (r *Repo) RecentWindow(ctx context.Context, userID uint64, conversationID string, n int) ([]Turn, error) {
	if n <= 0 {
		n = 20
	}
	var desc []Turn
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Order("id DESC").
		Limit(n).
		Find(&desc).Error; err != nil {
		return nil, err
	}

	// reverse to ASC (oldest -> newest)
	asc := make([]Turn, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		asc = append(asc, desc[i])
	}
	return asc, nil
}

// ListTurns returns turns in DESC id order (newest -> oldest) for paging.
func (r *Repo) ListTurns(ctx context.Context, userID uint64, conversationID string, limit int, beforeID uint64) ([]Turn, error) {
	if _, err := r.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var turns []Turn
	if err := q.Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

// Delete removes the conversation and its turns.
func (r *Repo) Delete(ctx context.Context, userID uint64, conversationID string) error {
	if _, err := r.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND conversation_id = ?", userID, conversationID).
			Delete(&Turn{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND conversation_id = ?", userID, conversationID).
			Delete(&Conversation{}).Error
	})
}
