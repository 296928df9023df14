package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/sells-group/mediascout/internal/model"
	"github.com/sells-group/mediascout/pkg/anthropic"
)

const staffPage = `# Newsroom

Maria Keller - Climate Reporter
Reach her at maria.keller@tagespost.test or +49 30 1234567
https://twitter.com/mariakeller

Jonas Weber, Senior Editor
jonas.weber@tagespost.test

By Anna Schmidt
`

func testPage() PageContent {
	return PageContent{
		ResultID: "r1",
		URL:      "https://tagespost.test/newsroom",
		Title:    "Newsroom",
		Outlet:   "Tagespost",
		Content:  staffPage,
	}
}

type mockAnthropicClient struct {
	response string
	err      error
}

func (m *mockAnthropicClient) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: m.response}},
	}, nil
}

func TestRuleBased_StaffListing(t *testing.T) {
	contacts := RuleBased{}.Extract(testPage())
	if len(contacts) < 2 {
		t.Fatalf("expected at least 2 contacts, got %d", len(contacts))
	}

	byName := make(map[string]model.ExtractedContact)
	for _, c := range contacts {
		byName[c.Name] = c
	}

	maria, ok := byName["Maria Keller"]
	if !ok {
		t.Fatal("Maria Keller not extracted")
	}
	if maria.Title != "Climate Reporter" {
		t.Errorf("unexpected title: %q", maria.Title)
	}
	if maria.Email != "maria.keller@tagespost.test" {
		t.Errorf("email not attached: %q", maria.Email)
	}
	if maria.Outlet != "Tagespost" {
		t.Errorf("outlet not set: %q", maria.Outlet)
	}
	if len(maria.SocialProfiles) != 1 {
		t.Errorf("social profile not attached: %v", maria.SocialProfiles)
	}

	if _, ok := byName["Anna Schmidt"]; !ok {
		t.Error("byline contact not extracted")
	}
}

func TestRuleBased_AllPending(t *testing.T) {
	for _, c := range (RuleBased{}).Extract(testPage()) {
		if c.Verification != model.VerificationPending {
			t.Errorf("%s: extractor must never set verification beyond pending, got %s", c.Name, c.Verification)
		}
		if c.Method != model.ExtractionRuleBased {
			t.Errorf("%s: unexpected method %s", c.Name, c.Method)
		}
	}
}

func TestRuleBased_MalformedContentYieldsNothing(t *testing.T) {
	pages := []string{"", "   \n\t  ", "<<<%%% binary garbage \x00\x01", "no contacts here at all"}
	for _, content := range pages {
		got := RuleBased{}.Extract(PageContent{Content: content})
		if len(got) != 0 {
			t.Errorf("content %q: expected no contacts, got %d", content, len(got))
		}
	}
}

func TestExtractor_ThresholdFiltersLowConfidence(t *testing.T) {
	ai := NewAIBased(&mockAnthropicClient{
		response: `[{"name": "Low Conf", "confidence": 0.3}, {"name": "High Conf", "title": "Editor", "confidence": 0.9}]`,
	}, "test-model")
	e := New(ai, StrategyAIBased)

	out, err := e.Extract(context.Background(), PageContent{ResultID: "r1", Content: "staff"}, model.SearchCriteria{}, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Contacts) != 1 {
		t.Fatalf("expected 1 contact above threshold, got %d", len(out.Contacts))
	}
	if out.Contacts[0].Name != "High Conf" {
		t.Errorf("wrong contact kept: %s", out.Contacts[0].Name)
	}
}

func TestExtractor_AIFailureDegradesToRules(t *testing.T) {
	ai := NewAIBased(&mockAnthropicClient{err: errors.New("overloaded")}, "test-model")
	e := New(ai, StrategyHybrid)

	out, err := e.Extract(context.Background(), testPage(), model.SearchCriteria{}, 0.5)
	if err != nil {
		t.Fatalf("hybrid degradation must not fail the page: %v", err)
	}
	if out.Degraded == nil {
		t.Fatal("ai failure must be reported through Degraded")
	}
	if len(out.Contacts) == 0 {
		t.Fatal("rule-based results must survive an AI failure")
	}
}

func TestExtractor_AIOnlyFailureIsHard(t *testing.T) {
	ai := NewAIBased(&mockAnthropicClient{err: errors.New("overloaded")}, "test-model")
	e := New(ai, StrategyAIBased)

	out, err := e.Extract(context.Background(), testPage(), model.SearchCriteria{}, 0.5)
	if err == nil {
		t.Fatal("ai-only strategy has no fallback, expected an error")
	}
	if len(out.Contacts) != 0 {
		t.Errorf("expected no contacts on hard failure, got %d", len(out.Contacts))
	}
}

func TestExtractor_HybridMergePrefersHigherConfidence(t *testing.T) {
	ai := NewAIBased(&mockAnthropicClient{
		response: `[{"name": "Maria Keller", "bio": "Covers EU climate policy.", "confidence": 0.95}]`,
	}, "test-model")
	e := New(ai, StrategyHybrid)

	out, err := e.Extract(context.Background(), testPage(), model.SearchCriteria{}, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var maria *model.ExtractedContact
	for i := range out.Contacts {
		if out.Contacts[i].Name == "Maria Keller" {
			maria = &out.Contacts[i]
		}
	}
	if maria == nil {
		t.Fatal("merged contact missing")
	}
	if maria.Method != model.ExtractionHybrid {
		t.Errorf("expected hybrid method, got %s", maria.Method)
	}
	// Bio from the AI pass, email from the rule pass.
	if maria.Bio == "" {
		t.Error("bio from ai pass lost in merge")
	}
	if maria.Email != "maria.keller@tagespost.test" {
		t.Errorf("email from rule pass lost in merge: %q", maria.Email)
	}
}

func TestExtractor_UnparseableAIResponse(t *testing.T) {
	ai := NewAIBased(&mockAnthropicClient{response: "I could not find any contacts, sorry!"}, "test-model")
	e := New(ai, StrategyHybrid)

	out, err := e.Extract(context.Background(), testPage(), model.SearchCriteria{}, 0.5)
	if err != nil {
		t.Fatalf("hybrid degradation must not fail the page: %v", err)
	}
	if out.Degraded == nil {
		t.Fatal("parse failure must be reported through Degraded")
	}
	if len(out.Contacts) == 0 {
		t.Error("rule results must survive an unparseable AI response")
	}
}

func TestAIBased_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	client := &countingAnthropicClient{err: errors.New("upstream unavailable")}
	ai := NewAIBased(client, "test-model")

	for i := 0; i < 8; i++ {
		_, _ = ai.Extract(context.Background(), testPage(), model.SearchCriteria{})
	}

	if client.calls >= 8 {
		t.Errorf("circuit never opened: %d calls reached the client", client.calls)
	}

	_, err := ai.Extract(context.Background(), testPage(), model.SearchCriteria{})
	if err == nil {
		t.Fatal("expected fast failure while the circuit is open")
	}
}

type countingAnthropicClient struct {
	calls int
	err   error
}

func (c *countingAnthropicClient) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.calls++
	return nil, c.err
}

func TestQualityScore_Completeness(t *testing.T) {
	empty := QualityScore(model.ExtractedContact{})
	nameOnly := QualityScore(model.ExtractedContact{Name: "A"})
	full := QualityScore(model.ExtractedContact{
		Name: "A", Email: "a@b.test", Title: "Editor", Outlet: "Post",
		Bio: "bio", Phone: "123", SocialProfiles: []string{"x"},
	})

	if empty != 0 {
		t.Errorf("empty contact should score 0, got %f", empty)
	}
	if nameOnly <= empty || full <= nameOnly {
		t.Errorf("quality must grow with completeness: %f, %f, %f", empty, nameOnly, full)
	}
	if full < 0.999 || full > 1.001 {
		t.Errorf("fully populated contact should score 1.0, got %f", full)
	}
}

func TestContactRelevance(t *testing.T) {
	criteria := model.SearchCriteria{Query: "climate", Beats: []string{"energy"}}

	hit := contactRelevance(model.ExtractedContact{Title: "Climate and Energy Reporter"}, criteria)
	miss := contactRelevance(model.ExtractedContact{Title: "Sports Desk"}, criteria)

	if hit != 1.0 {
		t.Errorf("both terms present, expected 1.0, got %f", hit)
	}
	if miss != 0 {
		t.Errorf("no terms present, expected 0, got %f", miss)
	}
}
