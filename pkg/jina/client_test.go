package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "climate journalists" {
			t.Errorf("unexpected query: %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		_ = json.NewEncoder(w).Encode(SearchResponse{
			Code: 200,
			Data: []SearchHit{
				{URL: "https://a.test/1", Title: "One"},
				{URL: "https://a.test/2", Title: "Two"},
				{URL: "https://a.test/3", Title: "Three"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithSearchBaseURL(srv.URL))
	resp, err := c.Search(context.Background(), "climate journalists", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Errorf("expected maxResults to cap hits at 2, got %d", len(resp.Data))
	}
}

func TestRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ReadResponse{
			Code: 200,
			Data: ReadData{URL: "https://a.test/about", Title: "About", Content: "# Team"},
		})
	}))
	defer srv.Close()

	c := NewClient("", WithReadBaseURL(srv.URL))
	resp, err := c.Read(context.Background(), "https://a.test/about")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data.Content != "# Team" {
		t.Errorf("unexpected content: %q", resp.Data.Content)
	}
}

func TestSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", WithSearchBaseURL(srv.URL))
	if _, err := c.Search(context.Background(), "x", 10); err == nil {
		t.Fatal("expected error on 429")
	}
}
