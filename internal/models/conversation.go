package models

import (
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusClosed   ConversationStatus = "closed"
	StatusArchived ConversationStatus = "archived"
)

// ConversationCategory classifies what a conversation is about.
type ConversationCategory string

const (
	CategoryGeneral      ConversationCategory = "general"
	CategoryPrescription ConversationCategory = "prescription"
	CategoryAppointment  ConversationCategory = "appointment"
	CategoryEmergency    ConversationCategory = "emergency"
)

// Conversation is a thread between a user and a facility. It owns an
// ordered, append-mostly sequence of Messages (ordered by creation time,
// ties broken by id).
type Conversation struct {
	ID             string               `json:"id"`
	UserID         string               `json:"user_id"`
	FacilityID     string               `json:"facility_id"`
	Subject        string               `json:"subject"`
	Status         ConversationStatus   `json:"status"`
	Category       ConversationCategory `json:"category"`
	LastActivityAt time.Time            `json:"last_activity_at"`
	CreatedAt      time.Time            `json:"created_at"`

	// Denormalized counterpart fields for rendering
	CounterpartName   string `json:"counterpart_name,omitempty"`
	CounterpartAvatar string `json:"counterpart_avatar,omitempty"`

	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}
