package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageError     MessageStatus = "error"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case MessageSent, MessageDelivered, MessageError:
		return true
	}
	return false
}

// Message represents a single turn in a session
type Message struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Content   string        `json:"content"`
	Role      Role          `json:"role"`
	Status    MessageStatus `json:"status"`
	Metadata  Metadata      `json:"metadata"`
	CreatedAt time.Time     `json:"created_at"`
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Metadata = m.Metadata.Clone()
	return &c
}
