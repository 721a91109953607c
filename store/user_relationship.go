package store

import "time"

// Relationship types. Exclusive types admit one active edge per
// (chat, from user, type): naming a different person deactivates the
// previous edge. Relative is the catch-all for extended family; there the
// surface label carries the precise word.
const (
	RelationshipSpouse    = "spouse"
	RelationshipPartner   = "partner"
	RelationshipParent    = "parent"
	RelationshipChild     = "child"
	RelationshipSibling   = "sibling"
	RelationshipRelative  = "relative"
	RelationshipFriend    = "friend"
	RelationshipColleague = "colleague"
)

// ExclusiveRelationships lists types that deactivate prior edges of the same
// type when a different person is named.
var ExclusiveRelationships = map[string]bool{
	RelationshipSpouse:  true,
	RelationshipPartner: true,
}

// UserRelationship is one mention-derived edge in the per-chat relationship
// graph, keyed by (chat, from user, related person name, type). The named
// person may be outside the chat; RelatedUserID is set only when name
// resolution found a member. Re-mentions bump MentionCount, take the max
// confidence and union in the source message ids.
type UserRelationship struct {
	ID               int64
	ChatID           int64
	FromUserID       int64
	RelatedName      string
	RelatedUserID    *int64
	Type             string
	SurfaceLabel     string // the word used in chat: "жена", "кореш"
	Confidence       float64
	MentionCount     int64
	SourceMessageIDs []int64
	Active           bool
	EndedAt          *time.Time
	EndReason        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FindUserRelationship specifies the conditions for listing relationships.
type FindUserRelationship struct {
	ChatID     *int64
	UserID     *int64 // matches the owner or the resolved counterpart
	OnlyActive bool
	Limit      int
}
