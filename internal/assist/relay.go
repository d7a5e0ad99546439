package assist

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/fretwise/fretwise/internal/ai"
)

type EventType string

const (
	EventStart EventType = "start"
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventError EventType = "error"
	EventPing  EventType = "ping"
)

// Event is one framed output event on the downstream stream.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content,omitempty"`
	Length         int       `json:"length,omitempty"`
	Error          string    `json:"error,omitempty"`
	TS             int64     `json:"ts,omitempty"`
}

// relaySession is one in-flight relay: it owns the composed cancellation
// context (client disconnect raced against the deadline timer), the event
// channel, and the accumulation buffer.
//
// Invariant: exactly one terminal outcome per session. A completed or failed
// session emits exactly one done or error event; a cancelled session closes
// the channel with no terminal event at all.
type relaySession struct {
	parent   context.Context
	deadline time.Duration
	events   chan Event
	buf      strings.Builder
}

func newRelaySession(parent context.Context, deadline time.Duration) *relaySession {
	return &relaySession{
		parent:   parent,
		deadline: deadline,
		events:   make(chan Event, 16),
	}
}

// emit forwards one event downstream, giving up if the caller went away.
func (rs *relaySession) emit(ev Event) bool {
	select {
	case rs.events <- ev:
		return true
	case <-rs.parent.Done():
		return false
	}
}

// run relays the provider stream. It emits start before any content, one
// chunk per provider delta in provider order, and returns the accumulated
// text with completed=true only on normal exhaustion of the upstream stream.
// Cancellation (client disconnect or deadline) returns completed=false with
// no event emitted for it; upstream failures emit a single error event.
//
// The caller closes rs.events after any post-completion work (so done can be
// emitted after persistence succeeds).
func (rs *relaySession) run(sp ai.StreamProvider, msgs []ai.Message, conversationID string) (text string, completed bool) {
	ctx, cancel := context.WithTimeout(rs.parent, rs.deadline)
	defer cancel()

	if !rs.emit(Event{Type: EventStart, ConversationID: conversationID}) {
		return "", false
	}

	chunks, errs := sp.StreamChat(ctx, msgs)

	for chunks != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			rs.buf.WriteString(c)
			if !rs.emit(Event{Type: EventChunk, Content: c}) {
				return "", false
			}
		case <-ctx.Done():
			// first cancellation signal wins; closing silently is the
			// terminal outcome, not an error
			return "", false
		}
	}

	// chunks channel closed: collect the provider's verdict. errs is closed
	// by the same goroutine, so this receive cannot block.
	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		e := Classify(err)
		log.Printf("relay: upstream failure kind=%s err=%v", e.Kind, err)
		rs.emit(Event{Type: EventError, Error: e.Message})
		return "", false
	}

	return rs.buf.String(), true
}

// finish emits the terminal done event carrying the accumulated length (the
// content itself has already been streamed).
func (rs *relaySession) finish(length int, conversationID string) {
	rs.emit(Event{Type: EventDone, ConversationID: conversationID, Length: length})
}

// fail emits the terminal error event for failures detected after the stream
// has started (e.g. the assistant turn could not be persisted).
func (rs *relaySession) fail(e *Error) {
	rs.emit(Event{Type: EventError, Error: e.Message})
}
