package models

import (
	"encoding/json"
)

// Inbound frame types pushed by the server, plus the synthetic
// "connection" type generated locally on every state transition.
const (
	EventNewMessage   = "new_message"
	EventTyping       = "typing"
	EventMessagesRead = "messages_read"
	EventConnection   = "connection"
)

// Outbound command types written to the push channel.
const (
	CommandSendMessage = "send_message"
	CommandJoin        = "join_conversation"
	CommandLeave       = "leave_conversation"
	CommandTyping      = "typing"
	CommandMarkRead    = "mark_read"
)

// Frame is one discrete unit of data on the push channel, in either
// direction: a type discriminator plus a type-dependent payload.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a Frame of the given type.
func NewFrame(frameType string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Data: raw}, nil
}

// TypingPayload is the data of an inbound "typing" frame.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// MessagesReadPayload is the data of an inbound "messages_read" frame.
type MessagesReadPayload struct {
	ConversationID string   `json:"conversation_id"`
	ReaderID       string   `json:"reader_id"`
	MessageIDs     []string `json:"message_ids"`
}

// SendMessageCommand is the data of an outbound "send_message" frame.
type SendMessageCommand struct {
	ConversationID string      `json:"conversation_id"`
	Body           string      `json:"message"`
	Kind           MessageKind `json:"message_type"`
	AttachmentURL  string      `json:"attachment_url,omitempty"`
}

// ConversationCommand is the data of the outbound frames that carry only
// a conversation id: join_conversation, leave_conversation, mark_read.
type ConversationCommand struct {
	ConversationID string `json:"conversation_id"`
}

// TypingCommand is the data of an outbound "typing" frame.
type TypingCommand struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}
