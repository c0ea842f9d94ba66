// Package domain contains core concepts of the messaging system.
// This file defines the per-pair Chat aggregate and its identity key.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Chat is the conversation aggregate for one unordered pair of users:
// a pointer to the most recent message plus the unread backlog counter.
// Exactly one Chat exists per pair; it is created lazily on first message.
type Chat struct {
	Participants  [2]string `json:"participants"`
	LastMessageID uuid.UUID `json:"lastMessage"`
	UnreadCount   int       `json:"unreadCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PairKey builds the canonical identity of a conversation.
// The two user ids are sorted so both directions map to the same key.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Pair returns the sorted participant array matching PairKey ordering.
func Pair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}
