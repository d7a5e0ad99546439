package ai

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Completion is a full (non-streamed) assistant reply.
type Completion struct {
	Content    string
	TokensUsed int
	Model      string
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (Completion, error)
}

// Sentinel errors used to classify upstream failures. Providers wrap these
// so callers can map them to caller-facing kinds without parsing provider
// wording.
var (
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
