package query

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/mediascout/internal/model"
)

// Enhancer produces paraphrases and expansions of a base query. Backed by
// the Anthropic client in production; absence or failure degrades the
// generator to template-only output.
type Enhancer interface {
	Enhance(ctx context.Context, query string, criteria model.SearchCriteria) ([]string, error)
}

// Options tunes the generator.
type Options struct {
	// MaxQueries caps the final ranked list. Default: 10.
	MaxQueries int
	// SimilarityThreshold above which two queries are near-duplicates.
	// Default: 0.85.
	SimilarityThreshold float64
	// EnhanceTop is how many top base queries get AI enhancement. Default: 3.
	EnhanceTop int
}

func (o Options) withDefaults() Options {
	if o.MaxQueries <= 0 {
		o.MaxQueries = 10
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = 0.85
	}
	if o.EnhanceTop <= 0 {
		o.EnhanceTop = 3
	}
	return o
}

// Generator instantiates templates, optionally enhances them via AI, and
// returns a scored, deduplicated, ranked query list.
type Generator struct {
	templates []Template
	enhancer  Enhancer
	opts      Options
}

// NewGenerator creates a Generator. enhancer may be nil.
func NewGenerator(templates []Template, enhancer Enhancer, opts Options) *Generator {
	return &Generator{
		templates: templates,
		enhancer:  enhancer,
		opts:      opts.withDefaults(),
	}
}

type candidate struct {
	text     string
	qtype    model.QueryType
	template string
	priority int
	enhanced bool
}

// Generate produces the ranked query list for a search configuration.
// AI-enhancement failures never abort generation.
func (g *Generator) Generate(ctx context.Context, cfg model.SearchConfiguration) ([]model.GeneratedQuery, error) {
	start := time.Now()

	candidates := g.renderTemplates(cfg.Criteria)
	if len(candidates) == 0 {
		return nil, nil
	}

	if cfg.Options.EnableAIEnhancement && g.enhancer != nil {
		candidates = append(candidates, g.enhance(ctx, cfg.Criteria, candidates)...)
	}

	ranked := g.rank(cfg.Criteria, candidates)
	if len(ranked) > g.opts.MaxQueries {
		ranked = ranked[:g.opts.MaxQueries]
	}

	elapsed := time.Since(start).Milliseconds()
	for i := range ranked {
		ranked[i].GenerationMS = elapsed
	}

	zap.L().Debug("query: generation complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(ranked)),
		zap.Int64("duration_ms", elapsed),
	)
	return ranked, nil
}

func (g *Generator) renderTemplates(c model.SearchCriteria) []candidate {
	var out []candidate
	for _, t := range g.templates {
		for _, text := range t.Render(c) {
			out = append(out, candidate{
				text:     text,
				qtype:    model.QueryBase,
				template: t.Name,
				priority: t.Priority,
			})
		}
	}
	return out
}

// enhance asks the AI collaborator for variants of the top base queries.
// Errors are logged and swallowed; generation continues template-only.
func (g *Generator) enhance(ctx context.Context, c model.SearchCriteria, base []candidate) []candidate {
	n := g.opts.EnhanceTop
	if n > len(base) {
		n = len(base)
	}

	var out []candidate
	for _, cand := range base[:n] {
		variants, err := g.enhancer.Enhance(ctx, cand.text, c)
		if err != nil {
			zap.L().Warn("query: AI enhancement failed, continuing template-only",
				zap.String("query", cand.text),
				zap.Error(err),
			)
			continue
		}
		for _, v := range variants {
			if v == "" {
				continue
			}
			out = append(out, candidate{
				text:     v,
				qtype:    model.QueryAIEnhanced,
				template: cand.template,
				priority: cand.priority,
				enhanced: true,
			})
		}
	}
	return out
}

// rank scores every candidate, drops near-duplicates keeping the highest
// overall representative, and orders by overall descending with template
// priority as the tiebreak.
func (g *Generator) rank(c model.SearchCriteria, candidates []candidate) []model.GeneratedQuery {
	// First pass: score against criteria only so duplicate clusters pick
	// their representative by relevance and coverage.
	type scored struct {
		candidate
		scores model.QueryScores
	}
	pool := make([]scored, 0, len(candidates))
	for _, cand := range candidates {
		pool = append(pool, scored{cand, scoreQuery(cand.text, c, nil)})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].scores.Overall != pool[j].scores.Overall {
			return pool[i].scores.Overall > pool[j].scores.Overall
		}
		return pool[i].priority < pool[j].priority
	})

	// Greedy selection: take the best-scoring candidate that isn't a
	// near-duplicate of anything already selected, rescoring diversity
	// against the running selection.
	var selectedTexts []string
	var out []model.GeneratedQuery
	for _, cand := range pool {
		dup := false
		for _, prev := range selectedTexts {
			if tokenSimilarity(cand.text, prev) >= g.opts.SimilarityThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}

		scores := scoreQuery(cand.text, c, selectedTexts)
		selectedTexts = append(selectedTexts, cand.text)
		out = append(out, model.GeneratedQuery{
			Text:             cand.text,
			Type:             cand.qtype,
			Template:         cand.template,
			TemplatePriority: cand.priority,
			Scores:           scores,
			Enhanced:         cand.enhanced,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Scores.Overall != out[j].Scores.Overall {
			return out[i].Scores.Overall > out[j].Scores.Overall
		}
		return out[i].TemplatePriority < out[j].TemplatePriority
	})
	return out
}
