package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticProviderExactCount(t *testing.T) {
	p := NewStaticProvider(DefaultPool(), 42)
	ctx := context.Background()

	qs, err := p.GetQuestions(ctx, 8)
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	if len(qs) != 8 {
		t.Fatalf("expected 8 questions, got %d", len(qs))
	}
	seen := map[string]bool{}
	for _, q := range qs {
		if seen[q.ID] {
			t.Fatalf("duplicate question %s in one set", q.ID)
		}
		seen[q.ID] = true
	}

	if _, err := p.GetQuestions(ctx, len(DefaultPool())+1); !errors.Is(err, ErrShortSet) {
		t.Fatalf("expected ErrShortSet for oversized request, got %v", err)
	}
}

func TestClientRejectsShortSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// returns fewer questions than requested
		resp := questionsResponse{Questions: DefaultPool()[:3]}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(1))
	if _, err := c.GetQuestions(context.Background(), 8); !errors.Is(err, ErrShortSet) {
		t.Fatalf("expected ErrShortSet, got %v", err)
	}
}

func TestClientFetchesQuestions(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		if r.URL.Query().Get("count") != "4" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(questionsResponse{Questions: DefaultPool()[:4]})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-Api-Key": "secret"}
	}))
	qs, err := c.GetQuestions(context.Background(), 4)
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	if len(qs) != 4 || gotHeader != "secret" {
		t.Fatalf("unexpected result: n=%d header=%q", len(qs), gotHeader)
	}
}

func TestClientSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(2))
	if _, err := c.GetQuestions(context.Background(), 4); err == nil {
		t.Fatalf("expected error from failing content service")
	}
}
