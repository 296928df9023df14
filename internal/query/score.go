package query

import (
	"strings"

	"github.com/sells-group/mediascout/internal/model"
)

// Overall score weights. Each sub-score is in [0, 1] and the combination
// is monotonic in all three: raising any sub-score raises overall.
const (
	relevanceWeight = 0.4
	diversityWeight = 0.3
	coverageWeight  = 0.3
)

// scoreQuery computes the ranking sub-scores for one query text relative
// to the criteria and the queries already selected before it.
func scoreQuery(text string, c model.SearchCriteria, selected []string) model.QueryScores {
	s := model.QueryScores{
		Relevance: relevanceScore(text, c),
		Diversity: diversityScore(text, selected),
		Coverage:  coverageScore(text, c),
	}
	s.Overall = relevanceWeight*s.Relevance + diversityWeight*s.Diversity + coverageWeight*s.Coverage
	return s
}

// relevanceScore is the fraction of criterion terms that appear in the
// query text.
func relevanceScore(text string, c model.SearchCriteria) float64 {
	terms := criterionTerms(c)
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// diversityScore is the token-overlap complement against the most similar
// already-selected query. The first query is maximally diverse.
func diversityScore(text string, selected []string) float64 {
	if len(selected) == 0 {
		return 1
	}
	maxSim := 0.0
	for _, prev := range selected {
		if sim := tokenSimilarity(text, prev); sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim
}

// coverageScore is the fraction of requested criterion dimensions
// represented in the query text. Adding a previously-unseen dimension's
// value to a query can only raise this score.
func coverageScore(text string, c model.SearchCriteria) float64 {
	total := c.Dimensions()
	if total == 0 {
		return 0
	}
	lower := strings.ToLower(text)

	covered := 0
	if c.Query != "" && strings.Contains(lower, strings.ToLower(c.Query)) {
		covered++
	}
	for _, dim := range [][]string{c.Countries, c.Categories, c.Beats, c.Languages, c.Domains} {
		if len(dim) == 0 {
			continue
		}
		for _, v := range dim {
			if strings.Contains(lower, strings.ToLower(v)) {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(total)
}

// tokenSimilarity is the Jaccard similarity of the two queries' lowercase
// token sets.
func tokenSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(tok, ".,;:!?\"'()")] = true
	}
	delete(set, "")
	return set
}

func criterionTerms(c model.SearchCriteria) []string {
	var terms []string
	if c.Query != "" {
		terms = append(terms, strings.ToLower(c.Query))
	}
	for _, dim := range [][]string{c.Countries, c.Categories, c.Beats, c.Languages, c.Domains} {
		for _, v := range dim {
			terms = append(terms, strings.ToLower(v))
		}
	}
	return terms
}
