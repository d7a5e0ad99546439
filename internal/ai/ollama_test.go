package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaStreamChat_NDJSONChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, c := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "{\"message\":{\"role\":\"assistant\",\"content\":%q},\"done\":false}\n", c)
		}
		fmt.Fprint(w, "{\"message\":{\"role\":\"assistant\",\"content\":\"\"},\"done\":true}\n")
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	p.Client = &http.Client{Timeout: 5 * time.Second}
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	got, err := drainStream(t, chunks, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(got) != 2 || got[0] != "Hel" || got[1] != "lo" {
		t.Fatalf("got %v, want [Hel lo]", got)
	}
}

func TestOllamaStreamChat_InlineErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"error\":\"model not loaded\"}\n")
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	p.Client = &http.Client{Timeout: 5 * time.Second}
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if _, err := drainStream(t, chunks, errs); err == nil {
		t.Fatalf("expected an error for an inline error line")
	}
}

func TestOllamaChat_ParsesEvalCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"hi there"},"eval_count":33,"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	p.Client = &http.Client{Timeout: 5 * time.Second}
	comp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if comp.Content != "hi there" || comp.TokensUsed != 33 || comp.Model != "test-model" {
		t.Fatalf("unexpected completion: %+v", comp)
	}
}

func TestOllamaChat_5xxIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	p.Client = &http.Client{Timeout: 5 * time.Second}
	if _, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
