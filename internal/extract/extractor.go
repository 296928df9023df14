package extract

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/mediascout/internal/model"
)

// PageContent is the fetched page handed to an extractor.
type PageContent struct {
	ResultID string
	URL      string
	Title    string
	Outlet   string
	Content  string
}

// Strategy selects which extraction paths run.
type Strategy string

const (
	StrategyRuleBased Strategy = "rule_based"
	StrategyAIBased   Strategy = "ai_based"
	StrategyHybrid    Strategy = "hybrid"
)

// Extractor runs the configured extraction strategy over a page and
// scores, filters, and returns contact candidates.
type Extractor struct {
	rules    RuleBased
	ai       *AIBased
	strategy Strategy
}

// New creates an Extractor. ai may be nil, which degrades HYBRID and
// AI_BASED to rule-only extraction.
func New(ai *AIBased, strategy Strategy) *Extractor {
	if strategy == "" {
		strategy = StrategyHybrid
	}
	return &Extractor{ai: ai, strategy: strategy}
}

// Output is one page's extraction outcome. Degraded carries the AI error
// when the rule pass still produced the contacts, so a degraded page is
// never mistaken for a failed one.
type Output struct {
	Contacts []model.ExtractedContact
	Degraded error
}

// Extract returns the scored contacts found on the page whose confidence
// meets the threshold. Under HYBRID an AI failure degrades to the rule
// results, reported through Output.Degraded; the error return is reserved
// for strategies with no rule fallback.
func (e *Extractor) Extract(ctx context.Context, page PageContent, criteria model.SearchCriteria, confidenceThreshold float64) (Output, error) {
	var ruleContacts, aiContacts []model.ExtractedContact
	var aiErr error

	ranRules := e.strategy == StrategyRuleBased || e.strategy == StrategyHybrid || e.ai == nil
	if ranRules {
		ruleContacts = e.rules.Extract(page)
	}
	if (e.strategy == StrategyAIBased || e.strategy == StrategyHybrid) && e.ai != nil {
		aiContacts, aiErr = e.ai.Extract(ctx, page, criteria)
		if aiErr != nil {
			if !ranRules {
				return Output{}, aiErr
			}
			zap.L().Warn("extract: ai pass failed, using rule results",
				zap.String("url", page.URL),
				zap.Error(aiErr),
			)
		}
	}

	merged := mergeContacts(ruleContacts, aiContacts)

	kept := merged[:0]
	for _, c := range merged {
		c.Relevance = contactRelevance(c, criteria)
		c.Quality = QualityScore(c)
		if c.Confidence < confidenceThreshold {
			continue
		}
		kept = append(kept, c)
	}

	return Output{Contacts: kept, Degraded: aiErr}, nil
}

// mergeContacts combines rule and AI candidates for the same person,
// preferring the higher-confidence source per field. Merged contacts are
// marked HYBRID.
func mergeContacts(rule, ai []model.ExtractedContact) []model.ExtractedContact {
	if len(ai) == 0 {
		return rule
	}
	if len(rule) == 0 {
		return ai
	}

	byName := make(map[string]int, len(ai))
	out := make([]model.ExtractedContact, len(ai))
	copy(out, ai)
	for i, c := range out {
		byName[normalizeName(c.Name)] = i
	}

	for _, rc := range rule {
		idx, ok := byName[normalizeName(rc.Name)]
		if !ok {
			out = append(out, rc)
			continue
		}

		merged := out[idx]
		hi, lo := merged, rc
		if rc.Confidence > merged.Confidence {
			hi, lo = rc, merged
		}

		merged = hi
		if merged.Title == "" {
			merged.Title = lo.Title
		}
		if merged.Outlet == "" {
			merged.Outlet = lo.Outlet
		}
		if merged.Bio == "" {
			merged.Bio = lo.Bio
		}
		if merged.Email == "" {
			merged.Email = lo.Email
		}
		if merged.Phone == "" {
			merged.Phone = lo.Phone
		}
		for _, s := range lo.SocialProfiles {
			merged.SocialProfiles = appendUnique(merged.SocialProfiles, s)
		}
		merged.Method = model.ExtractionHybrid
		out[idx] = merged
	}

	return out
}

// QualityScore measures record completeness: email and title dominate,
// bio and socials round it out.
func QualityScore(c model.ExtractedContact) float64 {
	score := 0.0
	if c.Name != "" {
		score += 0.2
	}
	if c.Email != "" {
		score += 0.3
	}
	if c.Title != "" {
		score += 0.2
	}
	if c.Outlet != "" {
		score += 0.1
	}
	if c.Bio != "" {
		score += 0.1
	}
	if len(c.SocialProfiles) > 0 {
		score += 0.05
	}
	if c.Phone != "" {
		score += 0.05
	}
	return score
}

// contactRelevance measures fit to the search criteria from the contact's
// own text fields.
func contactRelevance(c model.ExtractedContact, criteria model.SearchCriteria) float64 {
	var terms []string
	if criteria.Query != "" {
		terms = append(terms, strings.ToLower(criteria.Query))
	}
	for _, dim := range [][]string{criteria.Beats, criteria.Categories, criteria.Languages} {
		for _, v := range dim {
			terms = append(terms, strings.ToLower(v))
		}
	}
	if len(terms) == 0 {
		return 0.5 // no criteria to judge against
	}

	haystack := strings.ToLower(strings.Join([]string{c.Title, c.Bio, c.Outlet}, " "))
	matched := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
