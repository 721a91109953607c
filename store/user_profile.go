package store

import "time"

// Gender values stored on a profile. Unknown is the zero state; detection
// only ever raises confidence, never overwrites a higher one.
const (
	GenderUnknown = "unknown"
	GenderMale    = "male"
	GenderFemale  = "female"
)

// UserProfile is the per-(chat, user) profile row. The portrait fields
// (Summary through RoastMaterial) are LLM-written and refreshed together by
// the nightly generator; ProfileVersion increments on each refresh.
// ActivityByHour is a 24-slot message histogram in UTC hours.
type UserProfile struct {
	ChatID             int64
	UserID             int64
	Username           string
	DisplayName        string
	Gender             string
	GenderConfidence   float64
	Summary            string
	CommunicationStyle string
	RoleLabel          string
	Interests          []string
	Traits             []string
	RoastMaterial      []string
	ActivityByHour     []int64
	MessageCount       int64
	ProfileVersion     int
	LastActivityAt     time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GeneratedProfile carries one refresh result from the generator to the
// store. All portrait fields are replaced in a single update.
type GeneratedProfile struct {
	ChatID             int64
	UserID             int64
	Summary            string
	CommunicationStyle string
	RoleLabel          string
	Interests          []string
	Traits             []string
	RoastMaterial      []string
	ActivityByHour     []int64
}

// FindUserProfile specifies the conditions for listing profiles.
type FindUserProfile struct {
	ChatID *int64
	UserID *int64
	Limit  int
}

// ProfileCandidate filters users eligible for the nightly profile refresh.
type ProfileCandidate struct {
	ActiveSince time.Time
	MinMessages int64
	Limit       int
}
