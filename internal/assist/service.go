package assist

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/fretwise/fretwise/internal/ai"
	"github.com/fretwise/fretwise/internal/ratelimit"
	"github.com/fretwise/fretwise/internal/song"
)

const persistTimeout = 10 * time.Second

type Options struct {
	Provider   string
	Model      string
	WindowSize int
	Deadline   time.Duration
}

// Service orchestrates one relay request: admit -> load context -> build
// prompt -> append turn -> relay -> persist.
type Service struct {
	repo     *Repo
	songs    *song.Repo
	registry *ai.Registry
	limiter  ratelimit.Limiter

	provider   string
	model      string
	windowSize int
	deadline   time.Duration

	// one in-flight turn per conversation; interleaving two assistant
	// responses into one turn log would corrupt it
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewService(repo *Repo, songs *song.Repo, registry *ai.Registry, limiter ratelimit.Limiter, opts Options) *Service {
	if opts.WindowSize <= 0 || opts.WindowSize > 100 {
		opts.WindowSize = 20
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 90 * time.Second
	}
	return &Service{
		repo:       repo,
		songs:      songs,
		registry:   registry,
		limiter:    limiter,
		provider:   opts.Provider,
		model:      opts.Model,
		windowSize: opts.WindowSize,
		deadline:   opts.Deadline,
		inFlight:   make(map[string]struct{}),
	}
}

// ChatContext optionally grounds a conversation in one of the caller's songs.
type ChatContext struct {
	SongID uint64 `json:"song_id"`
	Focus  string `json:"focus"`
}

type ChatRequest struct {
	Message        string
	ConversationID string
	Context        *ChatContext
}

type ChatResult struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	TokensUsed     int    `json:"tokens_used"`
	Model          string `json:"model"`
}

func (s *Service) acquire(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[conversationID]; busy {
		return false
	}
	s.inFlight[conversationID] = struct{}{}
	return true
}

func (s *Service) release(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, conversationID)
}

// admit consults the limiter before anything touches the provider. A
// rejection here means zero upstream calls for this request.
func (s *Service) admit(ctx context.Context, userID uint64, class ratelimit.Class) *Error {
	d, err := s.limiter.Admit(ctx, userID, class)
	if err != nil {
		return newError(KindInternal, "internal error", err)
	}
	if !d.Allowed {
		retry := int(math.Ceil(d.RetryAfter.Seconds()))
		if retry < 1 {
			retry = 1
		}
		return newError(KindRateLimited, fmt.Sprintf("rate limit exceeded, retry in %ds", retry), nil)
	}
	return nil
}

func (s *Service) streamProvider(ctx context.Context, name, model string) (ai.StreamProvider, error) {
	p, err := s.registry.Get(ctx, name, model)
	if err != nil {
		return nil, err
	}
	sp, ok := p.(ai.StreamProvider)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support streaming", name)
	}
	return sp, nil
}

// prepareTurn runs everything that must happen before the upstream stream is
// opened: validation, rate limiting, the system-prompt snapshot for new
// conversations, the in-flight guard, and the user-turn append. Any failure
// here is an immediate rejection; no stream has been committed yet.
func (s *Service) prepareTurn(ctx context.Context, userID uint64, req ChatRequest) (*Conversation, []ai.Message, func(), *Error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, nil, nil, newError(KindInvalidInput, "message is required", nil)
	}
	if aerr := s.admit(ctx, userID, ratelimit.ClassChat); aerr != nil {
		return nil, nil, nil, aerr
	}

	// The snapshot is computed once, at conversation creation; follow-up
	// turns reuse the stored prompt even if the song changed since.
	var systemPrompt string
	if req.ConversationID == "" {
		if req.Context != nil && req.Context.SongID > 0 {
			d, err := s.songs.GetDetail(ctx, req.Context.SongID, userID)
			if err != nil {
				return nil, nil, nil, Classify(err)
			}
			systemPrompt = BuildChatSystemPrompt(d, ParseFocus(req.Context.Focus))
		} else {
			systemPrompt = BuildChatSystemPrompt(nil, FocusGeneral)
		}
	}

	conv, err := s.repo.GetOrCreate(ctx, userID, req.ConversationID, s.provider, s.model, systemPrompt)
	if err != nil {
		return nil, nil, nil, Classify(err)
	}

	if !s.acquire(conv.ConversationID) {
		return nil, nil, nil, newError(KindBusy, "conversation has a turn in flight", nil)
	}
	release := func() { s.release(conv.ConversationID) }

	if _, err := s.repo.AppendUserTurn(ctx, userID, conv.ConversationID, req.Message); err != nil {
		release()
		return nil, nil, nil, Classify(err)
	}

	window, err := s.repo.RecentWindow(ctx, userID, conv.ConversationID, s.windowSize)
	if err != nil {
		release()
		return nil, nil, nil, Classify(err)
	}

	msgs := make([]ai.Message, 0, len(window)+1)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: conv.SystemPrompt})
	for _, t := range window {
		msgs = append(msgs, ai.Message{Role: t.Role, Content: t.Content})
	}
	return conv, msgs, release, nil
}

// StreamChat runs one conversational relay session. The returned channel
// carries start, chunks in provider order, and exactly one terminal event —
// or closes without one when the session is cancelled.
func (s *Service) StreamChat(ctx context.Context, userID uint64, req ChatRequest) (<-chan Event, *Error) {
	conv, msgs, release, aerr := s.prepareTurn(ctx, userID, req)
	if aerr != nil {
		return nil, aerr
	}

	sp, err := s.streamProvider(ctx, conv.Provider, conv.Model)
	if err != nil {
		release()
		return nil, Classify(err)
	}

	rs := newRelaySession(ctx, s.deadline)
	go func() {
		defer close(rs.events)
		defer release()

		text, completed := rs.run(sp, msgs, conv.ConversationID)
		if !completed {
			// failed or cancelled sessions never persist a partial
			// assistant turn
			return
		}

		// The client can disconnect between the last chunk and here; persist
		// on a fresh context so a fully-delivered response is never lost.
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if _, err := s.repo.AppendAssistantTurn(pctx, userID, conv.ConversationID, text); err != nil {
			log.Printf("assist: persist assistant turn failed conversation=%s err=%v", conv.ConversationID, err)
			rs.fail(Classify(err))
			return
		}
		rs.finish(len(text), conv.ConversationID)
	}()
	return rs.events, nil
}

// Chat is the non-streaming variant: same pipeline, synchronous reply.
func (s *Service) Chat(ctx context.Context, userID uint64, req ChatRequest) (*ChatResult, *Error) {
	conv, msgs, release, aerr := s.prepareTurn(ctx, userID, req)
	if aerr != nil {
		return nil, aerr
	}
	defer release()

	provider, err := s.registry.Get(ctx, conv.Provider, conv.Model)
	if err != nil {
		return nil, Classify(err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	comp, err := provider.Chat(cctx, msgs)
	if err != nil {
		return nil, Classify(err)
	}

	if _, err := s.repo.AppendAssistantTurn(ctx, userID, conv.ConversationID, comp.Content); err != nil {
		return nil, Classify(err)
	}
	return &ChatResult{
		ConversationID: conv.ConversationID,
		Content:        comp.Content,
		TokensUsed:     comp.TokensUsed,
		Model:          comp.Model,
	}, nil
}

// streamOnce relays a single non-conversational request: nothing is
// persisted, the session is system prompt + one user message.
func (s *Service) streamOnce(ctx context.Context, systemPrompt, userMsg string) (<-chan Event, *Error) {
	sp, err := s.streamProvider(ctx, s.provider, s.model)
	if err != nil {
		return nil, Classify(err)
	}
	msgs := []ai.Message{
		{Role: ai.RoleSystem, Content: systemPrompt},
		{Role: ai.RoleUser, Content: userMsg},
	}
	rs := newRelaySession(ctx, s.deadline)
	go func() {
		defer close(rs.events)
		text, completed := rs.run(sp, msgs, "")
		if completed {
			rs.finish(len(text), "")
		}
	}()
	return rs.events, nil
}

// StreamSongAnalysis relays a grounded "analyze this song" request.
func (s *Service) StreamSongAnalysis(ctx context.Context, userID, songID uint64, focus Focus) (<-chan Event, *Error) {
	if aerr := s.admit(ctx, userID, ratelimit.ClassAnalysis); aerr != nil {
		return nil, aerr
	}
	d, err := s.songs.GetDetail(ctx, songID, userID)
	if err != nil {
		return nil, Classify(err)
	}
	return s.streamOnce(ctx, BuildSongContext(d, focus), "Please analyze the song.")
}

// StreamSectionSuggestion relays a grounded section-content suggestion.
// sectionID zero targets the song as a whole.
func (s *Service) StreamSectionSuggestion(ctx context.Context, userID, songID, sectionID uint64) (<-chan Event, *Error) {
	if aerr := s.admit(ctx, userID, ratelimit.ClassAnalysis); aerr != nil {
		return nil, aerr
	}
	d, err := s.songs.GetDetail(ctx, songID, userID)
	if err != nil {
		return nil, Classify(err)
	}
	var sec *song.Section
	if sectionID > 0 {
		sec, err = s.songs.GetSection(ctx, sectionID, songID)
		if err != nil {
			return nil, Classify(err)
		}
	}
	return s.streamOnce(ctx, BuildSuggestPrompt(d, sec), "Please make a suggestion.")
}

// StreamPracticeInsights relays an insights request over the user's recent
// practice history across all songs.
func (s *Service) StreamPracticeInsights(ctx context.Context, userID uint64) (<-chan Event, *Error) {
	if aerr := s.admit(ctx, userID, ratelimit.ClassAnalysis); aerr != nil {
		return nil, aerr
	}
	entries, err := s.songs.ListRecentPractice(ctx, userID, 20)
	if err != nil {
		return nil, Classify(err)
	}
	if len(entries) == 0 {
		return nil, newError(KindNotFound, "no practice history", nil)
	}
	return s.streamOnce(ctx, BuildPracticeInsightsPrompt(entries), "Please summarize my practice.")
}

// AnalyzeSong is the non-streaming analysis path used by the async worker.
// Rate limiting happened at enqueue time, not here.
func (s *Service) AnalyzeSong(ctx context.Context, userID, songID uint64, focus Focus) (*ai.Completion, error) {
	d, err := s.songs.GetDetail(ctx, songID, userID)
	if err != nil {
		return nil, err
	}

	provider, err := s.registry.Get(ctx, s.provider, s.model)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	msgs := []ai.Message{
		{Role: ai.RoleSystem, Content: BuildSongContext(d, focus)},
		{Role: ai.RoleUser, Content: "Please analyze the song."},
	}
	comp, err := provider.Chat(cctx, msgs)
	if err != nil {
		return nil, err
	}
	return &comp, nil
}

func (s *Service) ListTurns(ctx context.Context, userID uint64, conversationID string, limit int, beforeID uint64) ([]Turn, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListTurns(ctx, userID, conversationID, limit, beforeID)
}

func (s *Service) DeleteConversation(ctx context.Context, userID uint64, conversationID string) error {
	return s.repo.Delete(ctx, userID, conversationID)
}

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *AnalysisJob) (*AnalysisJob, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*AnalysisJob, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

// AdmitAnalysis exposes the analysis-class limiter for enqueue-time checks.
func (s *Service) AdmitAnalysis(ctx context.Context, userID uint64) *Error {
	return s.admit(ctx, userID, ratelimit.ClassAnalysis)
}

// VerifySongOwner is the enqueue-time ownership check for async jobs.
func (s *Service) VerifySongOwner(ctx context.Context, userID, songID uint64) error {
	return s.songs.Exists(ctx, songID, userID)
}
