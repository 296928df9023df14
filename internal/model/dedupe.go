package model

// DuplicateType names the rule that matched a duplicate group.
type DuplicateType string

const (
	DuplicateEmail       DuplicateType = "email"
	DuplicateNameOutlet  DuplicateType = "name_outlet"
	DuplicateNameTitle   DuplicateType = "name_title"
	DuplicateOutletTitle DuplicateType = "outlet_title"
	DuplicateSimilarBio  DuplicateType = "similar_bio"
	DuplicateSocialMedia DuplicateType = "social_media"
)

// DuplicateGroup clusters contacts that represent the same person.
// Every contact appears in at most one group.
type DuplicateGroup struct {
	ID              string             `json:"id"`
	Type            DuplicateType      `json:"type"`
	SimilarityScore float64            `json:"similarity_score"`
	ContactIDs      []string           `json:"contact_ids"`
	SelectedContact string             `json:"selected_contact"`
	Verification    VerificationStatus `json:"verification"`
}
