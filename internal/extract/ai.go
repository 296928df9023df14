package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mediascout/internal/model"
	"github.com/sells-group/mediascout/internal/resilience"
	"github.com/sells-group/mediascout/pkg/anthropic"
)

const extractionSystemPrompt = `You extract media contacts (journalists, editors, correspondents) from web page content. Respond with a JSON array only, no prose. Each element:
{"name": "...", "title": "...", "outlet": "...", "bio": "...", "email": "...", "phone": "...", "social_profiles": ["..."], "confidence": 0.0-1.0}
Include only people who plausibly work in media. Omit fields you cannot find. Confidence reflects how certain you are the person is a real media contact.`

// maxContentChars caps how much page text goes into the extraction prompt.
const maxContentChars = 24000

// AIBased extracts contacts via a structured-extraction prompt against
// the page text. A circuit breaker guards the API so a dead provider
// fails fast instead of stalling every page.
type AIBased struct {
	client  anthropic.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// NewAIBased creates an AI extractor using the given model.
func NewAIBased(client anthropic.Client, modelID string) *AIBased {
	return &AIBased{
		client:  client,
		model:   modelID,
		breaker: resilience.NewCircuitBreaker("anthropic_extract", resilience.DefaultCircuitBreakerConfig()),
	}
}

type aiContact struct {
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	Outlet         string   `json:"outlet"`
	Bio            string   `json:"bio"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone"`
	SocialProfiles []string `json:"social_profiles"`
	Confidence     float64  `json:"confidence"`
}

// Extract prompts the model with the page content and parses the JSON
// response into contacts. Malformed model output is an error for the
// caller to degrade on, never a panic.
func (a *AIBased) Extract(ctx context.Context, page PageContent, criteria model.SearchCriteria) ([]model.ExtractedContact, error) {
	content := page.Content
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Page URL: %s\nPage title: %s\n", page.URL, page.Title)
	if criteria.Query != "" {
		fmt.Fprintf(&sb, "Search topic: %s\n", criteria.Query)
	}
	if len(criteria.Beats) > 0 {
		fmt.Fprintf(&sb, "Relevant beats: %s\n", strings.Join(criteria.Beats, ", "))
	}
	sb.WriteString("\n---\n")
	sb.WriteString(content)

	resp, err := resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.model,
			MaxTokens: 4096,
			System:    extractionSystemPrompt,
			Messages: []anthropic.Message{
				{Role: "user", Content: sb.String()},
			},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: ai request")
	}

	text := resp.Text()
	parsed, err := parseAIContacts(text)
	if err != nil {
		zap.L().Warn("extract: unparseable ai response",
			zap.String("url", page.URL),
			zap.Int("response_len", len(text)),
			zap.Error(err),
		)
		return nil, eris.Wrap(err, "extract: parse ai response")
	}

	now := time.Now().UTC()
	out := make([]model.ExtractedContact, 0, len(parsed))
	for _, c := range parsed {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		outlet := c.Outlet
		if outlet == "" {
			outlet = page.Outlet
		}
		out = append(out, model.ExtractedContact{
			ID:             uuid.New().String(),
			ResultID:       page.ResultID,
			Name:           strings.TrimSpace(c.Name),
			Title:          strings.TrimSpace(c.Title),
			Outlet:         outlet,
			Bio:            strings.TrimSpace(c.Bio),
			Email:          strings.ToLower(strings.TrimSpace(c.Email)),
			Phone:          strings.TrimSpace(c.Phone),
			SocialProfiles: c.SocialProfiles,
			Confidence:     clamp01(c.Confidence),
			Verification:   model.VerificationPending,
			Method:         model.ExtractionAIBased,
			ExtractedAt:    now,
		})
	}
	return out, nil
}

// parseAIContacts tolerates code fences and leading prose around the JSON
// array.
func parseAIContacts(text string) ([]aiContact, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON array in response")
	}

	var contacts []aiContact
	if err := json.Unmarshal([]byte(text[start:end+1]), &contacts); err != nil {
		return nil, eris.Wrap(err, "unmarshal contacts")
	}
	return contacts, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
