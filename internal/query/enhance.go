package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mediascout/internal/model"
	"github.com/sells-group/mediascout/internal/resilience"
	"github.com/sells-group/mediascout/pkg/anthropic"
)

const enhanceSystemPrompt = `You rewrite web search queries to find media contacts (journalists, editors, correspondents). Given a base query and search criteria, produce up to 3 alternative phrasings that a search engine would answer with staff pages, masthead pages, or author bios. Respond with a JSON array of strings only, no prose.`

// maxVariants caps how many AI paraphrases one base query contributes.
const maxVariants = 3

// AIEnhancer paraphrases base queries through the Anthropic API. Its
// circuit breaker lets query generation skip enhancement quickly while
// the provider is down.
type AIEnhancer struct {
	client  anthropic.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// NewAIEnhancer creates an Enhancer using the given model.
func NewAIEnhancer(client anthropic.Client, modelID string) *AIEnhancer {
	return &AIEnhancer{
		client:  client,
		model:   modelID,
		breaker: resilience.NewCircuitBreaker("anthropic_enhance", resilience.DefaultCircuitBreakerConfig()),
	}
}

// Enhance returns alternative phrasings of the query. Unparseable
// responses are an error; the generator treats that as no variants.
func (e *AIEnhancer) Enhance(ctx context.Context, q string, criteria model.SearchCriteria) ([]string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Base query: %s\n", q)
	if len(criteria.Countries) > 0 {
		fmt.Fprintf(&sb, "Countries: %s\n", strings.Join(criteria.Countries, ", "))
	}
	if len(criteria.Beats) > 0 {
		fmt.Fprintf(&sb, "Beats: %s\n", strings.Join(criteria.Beats, ", "))
	}
	if len(criteria.Languages) > 0 {
		fmt.Fprintf(&sb, "Languages: %s\n", strings.Join(criteria.Languages, ", "))
	}

	resp, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.model,
			MaxTokens: 512,
			System:    enhanceSystemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: sb.String()}},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "query: enhance")
	}

	text := strings.TrimSpace(resp.Text())
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var variants []string
	if err := json.Unmarshal([]byte(text), &variants); err != nil {
		return nil, eris.Wrap(err, "query: parse enhancement response")
	}

	out := make([]string, 0, maxVariants)
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == maxVariants {
			break
		}
	}
	return out, nil
}
