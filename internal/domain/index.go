package domain

// ScoredDocument is one retrieval hit from a trial collection, ranked by
// ascending distance.
type ScoredDocument struct {
	ID       string            `json:"id"`
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// CollectionStats summarizes one trial collection. A zero DocumentCount with
// an empty Collection name means the trial has no collection yet.
type CollectionStats struct {
	Collection    string         `json:"collection"`
	TrialName     string         `json:"trial_name"`
	DocumentCount int            `json:"document_count"`
	TypeCounts    map[string]int `json:"type_counts,omitempty"`
}
