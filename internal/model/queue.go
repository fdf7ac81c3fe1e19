package model

import "time"

type Status string

const (
	Created    Status = "created"
	InProgress Status = "in-progress"
	Paused     Status = "paused"
	Completed  Status = "completed"
)

// CanTransition reports whether a queue may move from one status to the
// next. Completed is terminal; paused and in-progress cycle freely.
func CanTransition(from, to Status) bool {
	if from == Completed {
		return false
	}
	switch to {
	case InProgress:
		return from == Created || from == Paused || from == InProgress
	case Paused:
		return from == InProgress || from == Paused
	case Completed:
		return true
	case Created:
		return from == Created
	}
	return false
}

// VariationRule is one (find, alternatives) substitution pair. Find is a
// regular expression; Alternatives is a pipe-separated list of candidate
// replacements.
type VariationRule struct {
	Find         string `json:"find"`
	Alternatives string `json:"alternatives"`
}

// Queue is one persisted bulk-send job.
type Queue struct {
	ID               int64
	Owner            string
	Name             string
	Status           Status
	MessageTemplate  string
	EnableVariations bool
	Variations       []VariationRule
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
