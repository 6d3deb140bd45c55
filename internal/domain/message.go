// Package domain contains core domain types for the school information assistant.
package domain

import (
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	// SenderUser marks messages typed by the parent.
	SenderUser Sender = "user"
	// SenderAssistant marks welcome and answer messages.
	SenderAssistant Sender = "assistant"
)

// WelcomeText greets the parent at the top of every fresh conversation.
const WelcomeText = "Welcome to the School Information System! You can ask about past events, grades, or upcoming events. How can I assist you today?"

// Message is one immutable entry in a conversation log.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

// IsUser returns true if the message was typed by the parent.
func (m Message) IsUser() bool {
	return m.Sender == SenderUser
}
