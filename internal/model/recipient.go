package model

import "time"

// Ack is the delivery acknowledgment scale returned by the messaging
// provider after a send attempt.
type Ack int

const (
	AckError   Ack = -1
	AckPending Ack = 0
	AckServer  Ack = 1
	AckDevice  Ack = 2
	AckRead    Ack = 3
	AckPlayed  Ack = 4
)

// Delivered reports whether an ack indicates the provider accepted the
// message. Anything but an explicit error counts.
func (a Ack) Delivered() bool { return a != AckError }

// Recipient is one (queue, contact) row. Rows are created in bulk with
// their queue, mutated by the dispatch loop and inbound-reply handling,
// and only ever deleted in bulk with the queue.
type Recipient struct {
	ID          int64
	QueueID     int64
	Name        string
	PhoneNumber string
	Processed   bool
	Delivered   bool
	Responses   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecipientUpdate is a partial update; nil fields are left untouched.
type RecipientUpdate struct {
	Processed *bool
	Delivered *bool
}

// Totals summarizes a queue's progress.
type Totals struct {
	Total             int `json:"total"`
	Processed         int `json:"processed"`
	ResponsesReceived int `json:"responsesReceived"`
}
