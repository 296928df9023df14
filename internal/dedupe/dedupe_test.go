package dedupe

import (
	"reflect"
	"testing"
	"time"

	"github.com/sells-group/mediascout/internal/model"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func contact(id, name string, mutate ...func(*model.ExtractedContact)) model.ExtractedContact {
	c := model.ExtractedContact{
		ID:           id,
		ResultID:     "r1",
		Name:         name,
		Confidence:   0.8,
		Quality:      0.5,
		Verification: model.VerificationPending,
		Method:       model.ExtractionRuleBased,
		ExtractedAt:  baseTime,
	}
	for _, m := range mutate {
		m(&c)
	}
	return c
}

func groupOf(t *testing.T, r Result, typ model.DuplicateType) model.DuplicateGroup {
	t.Helper()
	for _, g := range r.Groups {
		if g.Type == typ {
			return g
		}
	}
	t.Fatalf("no group of type %s in %+v", typ, r.Groups)
	return model.DuplicateGroup{}
}

func TestDedupe_EmailCaseInsensitive(t *testing.T) {
	d := New(Config{})
	r := d.Dedupe([]model.ExtractedContact{
		contact("a", "Jane Doe", func(c *model.ExtractedContact) { c.Email = "Jane.Doe@Post.test" }),
		contact("b", "J. Doe", func(c *model.ExtractedContact) { c.Email = "jane.doe@post.test" }),
		contact("c", "Someone Else", func(c *model.ExtractedContact) { c.Email = "other@post.test" }),
	})

	if len(r.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(r.Groups))
	}
	g := r.Groups[0]
	if g.Type != model.DuplicateEmail {
		t.Errorf("unexpected type %s", g.Type)
	}
	if g.SimilarityScore != 1.0 {
		t.Errorf("exact match must score 1.0, got %f", g.SimilarityScore)
	}
	if !reflect.DeepEqual(g.ContactIDs, []string{"a", "b"}) {
		t.Errorf("unexpected members %v", g.ContactIDs)
	}
	if len(r.Unique) != 2 {
		t.Errorf("expected 2 unique contacts, got %d", len(r.Unique))
	}
}

func TestDedupe_RulePriorityEmailWins(t *testing.T) {
	// a and b share both an email and a name+outlet; the email rule runs
	// first and must claim them, leaving no second group.
	d := New(Config{})
	r := d.Dedupe([]model.ExtractedContact{
		contact("a", "Jane Doe", func(c *model.ExtractedContact) {
			c.Email = "jane@post.test"
			c.Outlet = "The Post"
		}),
		contact("b", "Jane Doe", func(c *model.ExtractedContact) {
			c.Email = "jane@post.test"
			c.Outlet = "The Post"
		}),
	})

	if len(r.Groups) != 1 {
		t.Fatalf("contact may appear in at most one group, got %d groups", len(r.Groups))
	}
	if r.Groups[0].Type != model.DuplicateEmail {
		t.Errorf("higher-priority rule must win, got %s", r.Groups[0].Type)
	}
}

func TestDedupe_NameOutletNormalization(t *testing.T) {
	d := New(Config{})
	r := d.Dedupe([]model.ExtractedContact{
		contact("a", "José  García", func(c *model.ExtractedContact) { c.Outlet = "El País" }),
		contact("b", "jose garcia", func(c *model.ExtractedContact) { c.Outlet = "el pais" }),
	})

	g := groupOf(t, r, model.DuplicateNameOutlet)
	if len(g.ContactIDs) != 2 {
		t.Errorf("diacritics and case must not block a match: %v", g.ContactIDs)
	}
}

func TestDedupe_RepresentativeByQuality(t *testing.T) {
	mk := func(order []string) Result {
		byID := map[string]model.ExtractedContact{
			"low": contact("low", "Jane Doe", func(c *model.ExtractedContact) {
				c.Email = "jane@post.test"
				c.Quality = 0.3
			}),
			"high": contact("high", "Jane Doe", func(c *model.ExtractedContact) {
				c.Email = "jane@post.test"
				c.Quality = 0.9
			}),
			"mid": contact("mid", "Jane Doe", func(c *model.ExtractedContact) {
				c.Email = "jane@post.test"
				c.Quality = 0.6
			}),
		}
		var in []model.ExtractedContact
		for _, id := range order {
			in = append(in, byID[id])
		}
		return New(Config{}).Dedupe(in)
	}

	for _, order := range [][]string{
		{"low", "high", "mid"},
		{"mid", "low", "high"},
		{"high", "mid", "low"},
	} {
		r := mk(order)
		if len(r.Groups) != 1 {
			t.Fatalf("order %v: expected 1 group, got %d", order, len(r.Groups))
		}
		if got := r.Groups[0].SelectedContact; got != "high" {
			t.Errorf("order %v: highest quality must be selected, got %s", order, got)
		}
	}
}

func TestDedupe_RepresentativeTieBreaks(t *testing.T) {
	d := New(Config{})
	r := d.Dedupe([]model.ExtractedContact{
		contact("later", "Jane Doe", func(c *model.ExtractedContact) {
			c.Email = "jane@post.test"
			c.ExtractedAt = baseTime.Add(time.Minute)
		}),
		contact("earlier", "Jane Doe", func(c *model.ExtractedContact) {
			c.Email = "jane@post.test"
		}),
		contact("confident", "Jane Doe", func(c *model.ExtractedContact) {
			c.Email = "jane@post.test"
			c.Confidence = 0.95
		}),
	})

	// Equal quality everywhere: confidence decides first, so the
	// higher-confidence contact wins over the earlier one.
	if got := r.Groups[0].SelectedContact; got != "confident" {
		t.Errorf("expected confidence tie-break, got %s", got)
	}
}

func TestDedupe_Determinism(t *testing.T) {
	contacts := []model.ExtractedContact{
		contact("a", "Jane Doe", func(c *model.ExtractedContact) { c.Email = "jane@post.test" }),
		contact("b", "Jane Doe", func(c *model.ExtractedContact) { c.Email = "jane@post.test" }),
		contact("c", "Max Weber", func(c *model.ExtractedContact) { c.Outlet = "Tagespost"; c.Title = "Editor" }),
		contact("d", "Max Weber", func(c *model.ExtractedContact) { c.Outlet = "Tagespost" }),
		contact("e", "Ann Lee", func(c *model.ExtractedContact) { c.Bio = "covers climate policy in berlin" }),
		contact("f", "A. Lee", func(c *model.ExtractedContact) { c.Bio = "covers climate policy in berlin daily" }),
	}

	d := New(Config{})
	first := d.Dedupe(contacts)
	second := d.Dedupe(contacts)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("reprocessing must be deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestDedupe_BioSimilarityThreshold(t *testing.T) {
	near := contact("a", "Ann Lee", func(c *model.ExtractedContact) { c.Bio = "covers climate policy in berlin" })
	match := contact("b", "A. Lee", func(c *model.ExtractedContact) { c.Bio = "covers climate policy in berlin daily" })
	far := contact("c", "Ann Leigh", func(c *model.ExtractedContact) { c.Bio = "covers climate policy in germany" })

	d := New(Config{})
	r := d.Dedupe([]model.ExtractedContact{near, match, far})

	g := groupOf(t, r, model.DuplicateSimilarBio)
	if !reflect.DeepEqual(g.ContactIDs, []string{"a", "b"}) {
		t.Errorf("only the high-overlap bios should group: %v", g.ContactIDs)
	}
	if g.SimilarityScore >= 1.0 || g.SimilarityScore < DefaultBioSimilarityThreshold {
		t.Errorf("fuzzy score must be fractional and above threshold, got %f", g.SimilarityScore)
	}
	if g.Verification != model.VerificationManualReview {
		t.Errorf("fuzzy groups need manual review, got %s", g.Verification)
	}
}

func TestDedupe_SharedSocialProfile(t *testing.T) {
	d := New(Config{})
	r := d.Dedupe([]model.ExtractedContact{
		contact("a", "Jane Doe", func(c *model.ExtractedContact) {
			c.SocialProfiles = []string{"https://twitter.com/janedoe"}
		}),
		contact("b", "J. Doe", func(c *model.ExtractedContact) {
			c.SocialProfiles = []string{"http://www.twitter.com/janedoe/"}
		}),
	})

	g := groupOf(t, r, model.DuplicateSocialMedia)
	if len(g.ContactIDs) != 2 {
		t.Errorf("profile URL variants must still match: %v", g.ContactIDs)
	}
}

func TestDedupe_NoMatchesNoGroups(t *testing.T) {
	d := New(Config{})
	contacts := []model.ExtractedContact{
		contact("a", "Jane Doe"),
		contact("b", "Max Weber"),
	}
	r := d.Dedupe(contacts)

	if len(r.Groups) != 0 {
		t.Errorf("expected no groups, got %d", len(r.Groups))
	}
	if len(r.Unique) != 2 {
		t.Errorf("all contacts must survive, got %d", len(r.Unique))
	}
	if r.DuplicateCount() != 0 {
		t.Errorf("expected 0 duplicates, got %d", r.DuplicateCount())
	}
}

func TestDedupe_DuplicateCount(t *testing.T) {
	d := New(Config{})
	r := d.Dedupe([]model.ExtractedContact{
		contact("a", "Jane Doe", func(c *model.ExtractedContact) { c.Email = "jane@post.test" }),
		contact("b", "Jane Doe", func(c *model.ExtractedContact) { c.Email = "jane@post.test" }),
		contact("c", "Jane Doe", func(c *model.ExtractedContact) { c.Email = "jane@post.test" }),
		contact("d", "Max Weber"),
	})

	if got := r.DuplicateCount(); got != 2 {
		t.Errorf("3 matched contacts fold into 2 duplicates, got %d", got)
	}
	if len(r.Unique) != 2 {
		t.Errorf("expected representative plus unmatched, got %d", len(r.Unique))
	}
}

func TestBioSimilarity(t *testing.T) {
	if got := BioSimilarity("", "anything"); got != 0 {
		t.Errorf("empty bio must score 0, got %f", got)
	}
	if got := BioSimilarity("same words here", "same words here"); got != 1.0 {
		t.Errorf("identical bios must score 1.0, got %f", got)
	}
}
