package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestOpenRouter(baseURL string) *OpenRouterProvider {
	p := NewOpenRouterProvider(baseURL, "test-key", "test/model", 256, "", "")
	p.Client = &http.Client{Timeout: 5 * time.Second}
	return p
}

func drainStream(t *testing.T, chunks <-chan string, errs <-chan error) ([]string, error) {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for chunks != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			out = append(out, c)
		case <-timeout:
			t.Fatalf("stream did not terminate, got %v", out)
		}
	}
	return out, <-errs
}

func TestOpenRouterStreamChat_ChunkOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openRouterChatReq
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !body.Stream {
			t.Errorf("stream request must set stream=true")
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"The ", "quick ", "fox"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestOpenRouter(srv.URL)
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	got, err := drainStream(t, chunks, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	want := []string{"The ", "quick ", "fox"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOpenRouterStreamChat_429IsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"slow down"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newTestOpenRouter(srv.URL)
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	got, err := drainStream(t, chunks, errs)
	if len(got) != 0 {
		t.Fatalf("expected no chunks, got %v", got)
	}
	if !errors.Is(err, ErrUpstreamRateLimited) {
		t.Fatalf("expected ErrUpstreamRateLimited, got %v", err)
	}
}

func TestOpenRouterStreamChat_5xxIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newTestOpenRouter(srv.URL)
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if _, err := drainStream(t, chunks, errs); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestOpenRouterStreamChat_TransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	p := newTestOpenRouter(srv.URL)
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if _, err := drainStream(t, chunks, errs); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestOpenRouterStreamChat_CancellationStopsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"one\"}}]}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release // hold the stream open
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := newTestOpenRouter(srv.URL)
	p.Client = &http.Client{}
	chunks, errs := p.StreamChat(ctx, []Message{{Role: RoleUser, Content: "hi"}})

	select {
	case <-chunks:
	case <-time.After(5 * time.Second):
		t.Fatalf("first chunk never arrived")
	}
	cancel()

	_, err := drainStream(t, chunks, errs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOpenRouterChat_ParsesContentAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openRouterChatReq
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Stream {
			t.Errorf("non-streaming request must set stream=false")
		}
		if body.Model != "test/model" || body.MaxTokens != 256 {
			t.Errorf("unexpected request body: %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"full reply"}}],"usage":{"total_tokens":77}}`)
	}))
	defer srv.Close()

	p := newTestOpenRouter(srv.URL)
	comp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if comp.Content != "full reply" || comp.TokensUsed != 77 || comp.Model != "test/model" {
		t.Fatalf("unexpected completion: %+v", comp)
	}
}

func TestOpenRouterChat_429IsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newTestOpenRouter(srv.URL)
	if _, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); !errors.Is(err, ErrUpstreamRateLimited) {
		t.Fatalf("expected ErrUpstreamRateLimited, got %v", err)
	}
}

func TestOpenRouter_MissingAPIKey(t *testing.T) {
	p := NewOpenRouterProvider("http://unused", "", "test/model", 0, "", "")
	if _, err := p.Chat(context.Background(), nil); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
