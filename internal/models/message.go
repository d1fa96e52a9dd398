package models

import (
	"time"
)

// MessageKind discriminates what a message body carries.
type MessageKind string

const (
	KindText         MessageKind = "text"
	KindImage        MessageKind = "image"
	KindFile         MessageKind = "file"
	KindPrescription MessageKind = "prescription"
)

// Message represents one chat line in a conversation. Messages are
// immutable once created except for the read flag and read timestamp,
// which flip false→true exactly once per reader.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Body           string      `json:"message"`
	Kind           MessageKind `json:"message_type"`
	AttachmentURL  string      `json:"attachment_url,omitempty"`
	IsRead         bool        `json:"is_read"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`

	// Denormalized sender fields supplied by the server for rendering
	SenderName   string `json:"sender_name,omitempty"`
	SenderRole   string `json:"sender_role,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`
}
