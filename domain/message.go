// Package domain contains core concepts of the messaging system.
// This file defines Message records and their status lifecycle.
// Messages are created once; only the read/delivery state may advance.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeDocument:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Advance returns the later of the two statuses.
// The lifecycle is monotone: sent -> delivered -> read, never backward.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// Message represents one direct message between two users.
// The ID is a UUIDv7: its string ordering follows creation order,
// which the history cursor relies on.
type Message struct {
	ID         uuid.UUID     `json:"id"`
	SenderID   string        `json:"sender"`
	ReceiverID string        `json:"receiver"`
	Content    string        `json:"content"`
	Type       MessageType   `json:"messageType"`
	Status     MessageStatus `json:"status"`
	IsRead     bool          `json:"isRead"`
	ReadAt     *time.Time    `json:"readAt,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}
