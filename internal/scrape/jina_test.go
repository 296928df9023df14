package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sells-group/mediascout/pkg/jina"
)

type fakeJina struct {
	read func(ctx context.Context, url string) (*jina.ReadResponse, error)
}

func (f *fakeJina) Read(ctx context.Context, url string) (*jina.ReadResponse, error) {
	return f.read(ctx, url)
}

func (f *fakeJina) Search(context.Context, string, int) (*jina.SearchResponse, error) {
	return nil, errors.New("not implemented")
}

func goodRead(content string) *jina.ReadResponse {
	return &jina.ReadResponse{
		Code: 200,
		Data: jina.ReadData{URL: "https://a.test/staff", Title: "Staff", Content: content},
	}
}

func TestJinaAdapter_Success(t *testing.T) {
	content := strings.Repeat("Jane Doe writes about climate. ", 10)
	a := NewJinaAdapter(&fakeJina{read: func(context.Context, string) (*jina.ReadResponse, error) {
		return goodRead(content), nil
	}})

	result, err := a.Scrape(context.Background(), "https://a.test/staff")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != "jina" || result.Page.Markdown != content {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestJinaAdapter_ShortContentNeedsFallback(t *testing.T) {
	a := NewJinaAdapter(&fakeJina{read: func(context.Context, string) (*jina.ReadResponse, error) {
		return goodRead("tiny"), nil
	}})

	if _, err := a.Scrape(context.Background(), "https://a.test/x"); err == nil {
		t.Fatal("near-empty content must be rejected so the chain falls through")
	}
}

func TestJinaAdapter_ChallengePageNeedsFallback(t *testing.T) {
	challenge := "Just a moment... Checking your browser before accessing the site." + strings.Repeat(" x", 60)
	a := NewJinaAdapter(&fakeJina{read: func(context.Context, string) (*jina.ReadResponse, error) {
		return goodRead(challenge), nil
	}})

	if _, err := a.Scrape(context.Background(), "https://a.test/x"); err == nil {
		t.Fatal("challenge pages must be rejected")
	}
}

func TestJinaAdapter_CircuitOpensAfterFailures(t *testing.T) {
	a := NewJinaAdapter(&fakeJina{read: func(context.Context, string) (*jina.ReadResponse, error) {
		return nil, errors.New("upstream down")
	}})

	for i := 0; i < 3; i++ {
		if !a.Supports("https://a.test/x") {
			t.Fatalf("circuit opened too early, after %d failures", i)
		}
		_, _ = a.Scrape(context.Background(), "https://a.test/x")
	}

	if a.Supports("https://a.test/x") {
		t.Error("circuit must be open after 3 consecutive failures")
	}
}
