// Package dedupe clusters extracted contacts that represent the same
// person and selects one canonical representative per cluster.
package dedupe

import (
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/mediascout/internal/model"
)

// DefaultBioSimilarityThreshold is the minimum token-set overlap for two
// bios to count as the same person.
const DefaultBioSimilarityThreshold = 0.75

// Config tunes duplicate detection.
type Config struct {
	BioSimilarityThreshold float64
}

// Deduplicator groups contacts across all results of a job. It never
// fails: unusable fields simply do not participate in matching.
type Deduplicator struct {
	cfg Config
}

// New creates a Deduplicator, filling in defaults.
func New(cfg Config) *Deduplicator {
	if cfg.BioSimilarityThreshold <= 0 || cfg.BioSimilarityThreshold > 1 {
		cfg.BioSimilarityThreshold = DefaultBioSimilarityThreshold
	}
	return &Deduplicator{cfg: cfg}
}

// Result is the outcome of one deduplication pass. Unique holds the
// deduplicated contact list: one representative per group plus every
// contact that matched no group, in extraction order.
type Result struct {
	Groups []model.DuplicateGroup
	Unique []model.ExtractedContact
}

// DuplicateCount is the number of contacts folded away into groups.
func (r Result) DuplicateCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.ContactIDs) - 1
	}
	return n
}

// Dedupe clusters the contacts. Matching rules run in priority order and
// the first matching rule claims a contact, so every contact lands in at
// most one group. The pass is deterministic: the same candidate set
// always produces identical groups and representatives.
func (d *Deduplicator) Dedupe(contacts []model.ExtractedContact) Result {
	// Fix the input order up front so grouping does not depend on how
	// concurrent extraction happened to interleave.
	sorted := make([]model.ExtractedContact, len(contacts))
	copy(sorted, contacts)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ExtractedAt.Equal(sorted[j].ExtractedAt) {
			return sorted[i].ExtractedAt.Before(sorted[j].ExtractedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	assigned := make(map[string]bool, len(sorted))
	var groups []model.DuplicateGroup

	exactRules := []struct {
		typ model.DuplicateType
		key func(model.ExtractedContact) string
	}{
		{model.DuplicateEmail, func(c model.ExtractedContact) string {
			return strings.ToLower(strings.TrimSpace(c.Email))
		}},
		{model.DuplicateNameOutlet, func(c model.ExtractedContact) string {
			return compoundKey(Normalize(c.Name), Normalize(c.Outlet))
		}},
		{model.DuplicateNameTitle, func(c model.ExtractedContact) string {
			return compoundKey(Normalize(c.Name), Normalize(c.Title))
		}},
		{model.DuplicateOutletTitle, func(c model.ExtractedContact) string {
			return compoundKey(Normalize(c.Outlet), Normalize(c.Title))
		}},
	}
	for _, rule := range exactRules {
		groups = append(groups, d.exactGroups(sorted, assigned, rule.typ, rule.key)...)
	}
	groups = append(groups, d.bioGroups(sorted, assigned)...)
	groups = append(groups, d.socialGroups(sorted, assigned)...)

	reps := make(map[string]bool, len(groups))
	for _, g := range groups {
		reps[g.SelectedContact] = true
	}
	unique := make([]model.ExtractedContact, 0, len(sorted))
	for _, c := range sorted {
		if !assigned[c.ID] || reps[c.ID] {
			unique = append(unique, c)
		}
	}

	zap.L().Debug("dedupe: pass complete",
		zap.Int("contacts", len(contacts)),
		zap.Int("groups", len(groups)),
		zap.Int("unique", len(unique)),
	)
	return Result{Groups: groups, Unique: unique}
}

// exactGroups clusters unassigned contacts sharing a non-empty key.
func (d *Deduplicator) exactGroups(contacts []model.ExtractedContact, assigned map[string]bool, typ model.DuplicateType, key func(model.ExtractedContact) string) []model.DuplicateGroup {
	byKey := make(map[string][]model.ExtractedContact)
	var order []string
	for _, c := range contacts {
		if assigned[c.ID] {
			continue
		}
		k := key(c)
		if k == "" {
			continue
		}
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], c)
	}

	var groups []model.DuplicateGroup
	for _, k := range order {
		members := byKey[k]
		if len(members) < 2 {
			continue
		}
		groups = append(groups, newGroup(typ, 1.0, members, assigned, model.VerificationPending))
	}
	return groups
}

// bioGroups clusters unassigned contacts whose bios overlap above the
// threshold, seeded greedily in extraction order. Fuzzy matches go to
// manual review rather than silent confirmation.
func (d *Deduplicator) bioGroups(contacts []model.ExtractedContact, assigned map[string]bool) []model.DuplicateGroup {
	var groups []model.DuplicateGroup
	for i, seed := range contacts {
		if assigned[seed.ID] || strings.TrimSpace(seed.Bio) == "" {
			continue
		}
		members := []model.ExtractedContact{seed}
		var simSum float64
		for _, cand := range contacts[i+1:] {
			if assigned[cand.ID] || strings.TrimSpace(cand.Bio) == "" {
				continue
			}
			sim := BioSimilarity(seed.Bio, cand.Bio)
			if sim >= d.cfg.BioSimilarityThreshold {
				members = append(members, cand)
				simSum += sim
			}
		}
		if len(members) < 2 {
			continue
		}
		score := simSum / float64(len(members)-1)
		groups = append(groups, newGroup(model.DuplicateSimilarBio, score, members, assigned, model.VerificationManualReview))
	}
	return groups
}

// socialGroups clusters unassigned contacts sharing any social profile
// URL. A contact listing several profiles joins the first cluster any of
// them belongs to.
func (d *Deduplicator) socialGroups(contacts []model.ExtractedContact, assigned map[string]bool) []model.DuplicateGroup {
	clusterOf := make(map[string]int)
	var clusters [][]model.ExtractedContact
	for _, c := range contacts {
		if assigned[c.ID] || len(c.SocialProfiles) == 0 {
			continue
		}
		idx := -1
		for _, p := range c.SocialProfiles {
			if j, ok := clusterOf[normalizeProfileURL(p)]; ok {
				idx = j
				break
			}
		}
		if idx < 0 {
			idx = len(clusters)
			clusters = append(clusters, nil)
		}
		clusters[idx] = append(clusters[idx], c)
		for _, p := range c.SocialProfiles {
			clusterOf[normalizeProfileURL(p)] = idx
		}
	}

	var groups []model.DuplicateGroup
	for _, members := range clusters {
		if len(members) < 2 {
			continue
		}
		groups = append(groups, newGroup(model.DuplicateSocialMedia, 1.0, members, assigned, model.VerificationPending))
	}
	return groups
}

func newGroup(typ model.DuplicateType, score float64, members []model.ExtractedContact, assigned map[string]bool, verification model.VerificationStatus) model.DuplicateGroup {
	ids := make([]string, 0, len(members))
	best := members[0]
	for _, c := range members {
		assigned[c.ID] = true
		ids = append(ids, c.ID)
		if preferRepresentative(c, best) {
			best = c
		}
	}
	return model.DuplicateGroup{
		ID:              groupID(typ, ids),
		Type:            typ,
		SimilarityScore: score,
		ContactIDs:      ids,
		SelectedContact: best.ID,
		Verification:    verification,
	}
}

// preferRepresentative reports whether a beats b as the group's canonical
// contact: highest quality, then highest confidence, then earliest
// extraction, then lowest ID for full determinism.
func preferRepresentative(a, b model.ExtractedContact) bool {
	if a.Quality != b.Quality {
		return a.Quality > b.Quality
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.ExtractedAt.Equal(b.ExtractedAt) {
		return a.ExtractedAt.Before(b.ExtractedAt)
	}
	return a.ID < b.ID
}

// groupID derives a stable ID from the rule and membership so that
// reprocessing the same candidates yields byte-identical groups.
func groupID(typ model.DuplicateType, ids []string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(typ)+":"+strings.Join(ids, ","))).String()
}

func compoundKey(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	return a + "|" + b
}

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize folds a field for matching: diacritics stripped, lowercased,
// whitespace collapsed. "José  García" and "jose garcia" normalize equal.
func Normalize(s string) string {
	folded, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// BioSimilarity is the Jaccard similarity of the two bios' normalized
// token sets.
func BioSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(ta)+len(tb)-inter)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(Normalize(s)) {
		set[t] = true
	}
	return set
}

func normalizeProfileURL(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimSuffix(u, "/")
}
