package model

// QueryType distinguishes how a query string was produced.
type QueryType string

const (
	QueryBase       QueryType = "base"
	QueryAIEnhanced QueryType = "ai_enhanced"
	QueryVariant    QueryType = "variant"
)

// QueryScores holds the per-query ranking sub-scores, each in [0, 1].
type QueryScores struct {
	Relevance float64 `json:"relevance"`
	Diversity float64 `json:"diversity"`
	Coverage  float64 `json:"coverage"`
	Overall   float64 `json:"overall"`
}

// GeneratedQuery is a scored search query ready for dispatch. Read-only
// once produced by the generator.
type GeneratedQuery struct {
	Text             string      `json:"text"`
	Type             QueryType   `json:"type"`
	Template         string      `json:"template,omitempty"`
	TemplatePriority int         `json:"template_priority"`
	Scores           QueryScores `json:"scores"`
	Enhanced         bool        `json:"enhanced"`
	GenerationMS     int64       `json:"generation_ms"`
}
