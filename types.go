package messaging

import (
	"github.com/carebridge/messaging/internal/dispatch"
	"github.com/carebridge/messaging/internal/models"
)

// Aliases so application code never has to reach into internal packages.

type (
	Message              = models.Message
	Conversation         = models.Conversation
	MessageKind          = models.MessageKind
	ConversationStatus   = models.ConversationStatus
	ConversationCategory = models.ConversationCategory
	ConnState            = models.ConnState
	TypingPayload        = models.TypingPayload
	MessagesReadPayload  = models.MessagesReadPayload
)

const (
	KindText         = models.KindText
	KindImage        = models.KindImage
	KindFile         = models.KindFile
	KindPrescription = models.KindPrescription
)

const (
	StatusActive   = models.StatusActive
	StatusClosed   = models.StatusClosed
	StatusArchived = models.StatusArchived
)

const (
	CategoryGeneral      = models.CategoryGeneral
	CategoryPrescription = models.CategoryPrescription
	CategoryAppointment  = models.CategoryAppointment
	CategoryEmergency    = models.CategoryEmergency
)

const (
	StateDisconnected = models.StateDisconnected
	StateConnecting   = models.StateConnecting
	StateConnected    = models.StateConnected
	StateReconnecting = models.StateReconnecting
)

// Event types the façade delivers to subscribers.
const (
	EventNewMessage   = models.EventNewMessage
	EventTyping       = models.EventTyping
	EventMessagesRead = models.EventMessagesRead
	EventConnection   = models.EventConnection
)

type (
	Event             = dispatch.Event
	Handler           = dispatch.Handler
	Subscription      = dispatch.Subscription
	NewMessageEvent   = dispatch.NewMessageEvent
	TypingEvent       = dispatch.TypingEvent
	MessagesReadEvent = dispatch.MessagesReadEvent
	ConnectionEvent   = dispatch.ConnectionEvent
)
