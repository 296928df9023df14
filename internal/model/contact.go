package model

import "time"

// VerificationStatus tracks downstream review of an extracted contact.
// The extractor always writes PENDING; the deduplicator and human review
// move contacts to the other states.
type VerificationStatus string

const (
	VerificationPending      VerificationStatus = "pending"
	VerificationConfirmed    VerificationStatus = "confirmed"
	VerificationRejected     VerificationStatus = "rejected"
	VerificationManualReview VerificationStatus = "manual_review"
)

// ExtractionMethod identifies how a contact was produced.
type ExtractionMethod string

const (
	ExtractionRuleBased ExtractionMethod = "rule_based"
	ExtractionAIBased   ExtractionMethod = "ai_based"
	ExtractionHybrid    ExtractionMethod = "hybrid"
	ExtractionManual    ExtractionMethod = "manual"
)

// ExtractedContact is one contact candidate parsed from a fetched page.
// Each contact belongs to exactly one SearchResult.
type ExtractedContact struct {
	ID             string             `json:"id"`
	ResultID       string             `json:"result_id"`
	Name           string             `json:"name"`
	Title          string             `json:"title,omitempty"`
	Outlet         string             `json:"outlet,omitempty"`
	Bio            string             `json:"bio,omitempty"`
	Email          string             `json:"email,omitempty"`
	Phone          string             `json:"phone,omitempty"`
	SocialProfiles []string           `json:"social_profiles,omitempty"`
	Confidence     float64            `json:"confidence"`
	Relevance      float64            `json:"relevance"`
	Quality        float64            `json:"quality"`
	Verification   VerificationStatus `json:"verification"`
	Method         ExtractionMethod   `json:"method"`
	ExtractedAt    time.Time          `json:"extracted_at"`
}
