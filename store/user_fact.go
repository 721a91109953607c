package store

import "time"

// Fact types the extraction pipeline may assign. A fact is keyed by its text,
// so one user can hold many facts of the same type.
const (
	FactTypeLikes    = "likes"
	FactTypeDislikes = "dislikes"
	FactTypeSaid     = "said"
	FactTypeDoes     = "does"
	FactTypeKnows    = "knows"
	FactTypeOpinion  = "opinion"
)

// UserFact is one extracted fact about a user, keyed by (chat, user, fact
// text). Upserts take the max confidence and append source message ids.
type UserFact struct {
	ID               int64
	ChatID           int64
	UserID           int64
	FactType         string
	FactValue        string
	Confidence       float64
	SourceMessageIDs []int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FindUserFact specifies the conditions for listing facts.
type FindUserFact struct {
	ChatID        *int64
	UserID        *int64
	FactType      *string
	MinConfidence float64
	Limit         int
}
