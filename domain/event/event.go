// Package event defines the events the engine pushes to live sessions.
// Event names and payload shapes are part of the client wire contract.
package event

import (
	"dm-engine/domain"
)

type DomainEvent interface {
	EventName() string
}

// BatchMessageID is the messageId sent for a whole-backlog read
// acknowledgment, instead of one event per message.
const BatchMessageID = "all"

// NewMessage notifies the receiver's sessions of a freshly persisted message.
type NewMessage struct {
	Message domain.Message `json:"message"`
}

func (NewMessage) EventName() string { return "newMessage" }

// MessageStatus acknowledges a status transition to the original sender.
// MessageID may be BatchMessageID after a read sweep.
type MessageStatus struct {
	MessageID string               `json:"messageId"`
	Status    domain.MessageStatus `json:"status"`
}

func (MessageStatus) EventName() string { return "messageStatus" }

// Typing is a best-effort indicator, delivered only to the target user.
type Typing struct {
	SenderID string `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

func (Typing) EventName() string { return "typing-indicator" }

type UserOnline struct {
	UserID string `json:"userId"`
}

func (UserOnline) EventName() string { return "user-online" }

type UserOffline struct {
	UserID string `json:"userId"`
}

func (UserOffline) EventName() string { return "user-offline" }
