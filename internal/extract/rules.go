// Package extract converts fetched page content into structured media
// contact candidates with confidence, relevance, and quality scores.
package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/mediascout/internal/model"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?[0-9][0-9()\-\s.]{7,}[0-9]`)
	// Bylines like "By Jane Doe" or "Written by Jane Doe".
	bylineRe = regexp.MustCompile(`(?im)^(?:by|written by|reported by)[:\s]+([A-Z][a-zA-Z'\-]+(?:\s+[A-Z][a-zA-Z'\-]+){1,3})\s*$`)
	// Staff listings like "Jane Doe, Senior Editor" or "Jane Doe - Climate Reporter".
	staffRe  = regexp.MustCompile(`(?m)^([A-Z][a-zA-Z'\-]+(?:\s+[A-Z][a-zA-Z'\-]+){1,3})\s*[,—–-]\s*([A-Z][a-zA-Z\s]{2,40}?(?:Editor|Reporter|Correspondent|Journalist|Writer|Columnist|Producer|Critic|Chief))\s*$`)
	socialRe = regexp.MustCompile(`https?://(?:www\.)?(?:twitter\.com|x\.com|linkedin\.com/in|mastodon\.social|bsky\.app/profile)/[A-Za-z0-9._\-/@]+`)
)

// RuleBased extracts contacts from page text using byline and staff-list
// pattern matching. It never fails: unusable content yields zero contacts.
type RuleBased struct{}

// Extract scans the page content for contact candidates.
func (RuleBased) Extract(page PageContent) []model.ExtractedContact {
	if strings.TrimSpace(page.Content) == "" {
		return nil
	}

	now := time.Now().UTC()
	byName := make(map[string]*model.ExtractedContact)
	var order []string

	add := func(name, title string, confidence float64) *model.ExtractedContact {
		key := strings.ToLower(name)
		if c, ok := byName[key]; ok {
			if title != "" && c.Title == "" {
				c.Title = title
			}
			if confidence > c.Confidence {
				c.Confidence = confidence
			}
			return c
		}
		c := &model.ExtractedContact{
			ID:           uuid.New().String(),
			ResultID:     page.ResultID,
			Name:         name,
			Title:        title,
			Outlet:       page.Outlet,
			Confidence:   confidence,
			Verification: model.VerificationPending,
			Method:       model.ExtractionRuleBased,
			ExtractedAt:  now,
		}
		byName[key] = c
		order = append(order, key)
		return c
	}

	for _, m := range staffRe.FindAllStringSubmatch(page.Content, -1) {
		add(strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), 0.75)
	}
	for _, m := range bylineRe.FindAllStringSubmatch(page.Content, -1) {
		add(strings.TrimSpace(m[1]), "", 0.6)
	}

	// Attach emails, phones, and social profiles to the nearest named
	// candidate by line proximity; orphaned emails become their own
	// low-confidence candidates.
	lines := strings.Split(page.Content, "\n")
	for i, line := range lines {
		for _, email := range emailRe.FindAllString(line, -1) {
			if c := nearestContact(byName, lines, i); c != nil && c.Email == "" {
				c.Email = strings.ToLower(email)
				if c.Confidence < 0.85 {
					c.Confidence = 0.85
				}
			} else if c == nil {
				nc := add(nameFromEmail(email), "", 0.4)
				nc.Email = strings.ToLower(email)
			}
		}
		for _, phone := range phoneRe.FindAllString(line, -1) {
			if c := nearestContact(byName, lines, i); c != nil && c.Phone == "" {
				c.Phone = strings.TrimSpace(phone)
			}
		}
		for _, social := range socialRe.FindAllString(line, -1) {
			if c := nearestContact(byName, lines, i); c != nil {
				c.SocialProfiles = appendUnique(c.SocialProfiles, social)
			}
		}
	}

	out := make([]model.ExtractedContact, 0, len(order))
	for _, key := range order {
		out = append(out, *byName[key])
	}
	return out
}

// nearestContact finds a named candidate within a few lines above the
// given line index.
func nearestContact(byName map[string]*model.ExtractedContact, lines []string, idx int) *model.ExtractedContact {
	const window = 3
	for d := 0; d <= window; d++ {
		i := idx - d
		if i < 0 {
			break
		}
		lower := strings.ToLower(lines[i])
		for key, c := range byName {
			if strings.Contains(lower, key) {
				return c
			}
		}
	}
	return nil
}

// nameFromEmail derives a display name from the local part of an email,
// e.g. "jane.doe@x.test" → "Jane Doe".
func nameFromEmail(email string) string {
	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
