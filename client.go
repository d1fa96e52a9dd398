// Package messaging is the real-time messaging client used by the
// CareBridge applications. It maintains one persistent push connection
// per user session, reconnects with exponential backoff after network
// drops, falls back to the request/response API when the push channel is
// unavailable, and keeps a TTL cache of conversation and message pages.
//
// Construct one Client at session start and tear it down with Disconnect
// at logout. All methods are safe for concurrent use.
package messaging

import (
	"context"
	"fmt"

	"github.com/carebridge/messaging/internal/cache"
	"github.com/carebridge/messaging/internal/dispatch"
	"github.com/carebridge/messaging/internal/logger"
	"github.com/carebridge/messaging/internal/models"
	"github.com/carebridge/messaging/internal/rest"
	"github.com/carebridge/messaging/internal/transport"
)

var log = logger.New("messaging")

// Client is the messaging façade. It owns the transport and the cache
// for the lifetime of the user session; the UI layer only ever talks to
// this type and to the events it emits.
type Client struct {
	cfg       Config
	api       *rest.Client
	store     *cache.Cache
	bus       *dispatch.Dispatcher
	transport *transport.Transport
}

// New builds a Client from the configuration. No network activity
// happens until Connect.
func New(cfg Config) (*Client, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	api, err := rest.NewClient(rest.Config{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	bus := dispatch.New()
	store := cache.New(cfg.CacheTTL)

	c := &Client{
		cfg:   cfg,
		api:   api,
		store: store,
		bus:   bus,
	}

	// Cache upkeep subscribes before any UI handler can, so a pushed
	// message lands in the cached pages ahead of UI reads.
	bus.On(models.EventNewMessage, func(ev dispatch.Event) {
		if e, ok := ev.(dispatch.NewMessageEvent); ok {
			store.AppendMessage(e.Message)
		}
	})

	c.transport = transport.New(transport.Config{
		Endpoint: cfg.WebSocketURL,
		Backoff: transport.BackoffPolicy{
			Base:        cfg.BackoffBase,
			MaxAttempts: cfg.MaxReconnectAttempts,
			Jitter:      true,
		},
		DialTimeout: cfg.DialTimeout,
		OnFrame:     bus.DispatchFrame,
		OnState: func(state models.ConnState, err error) {
			bus.Emit(dispatch.ConnectionEvent{State: state, Err: err})
		},
	})

	return c, nil
}

// Connect opens the push connection with the given bearer token. The
// same token is used for every fallback call and for every reconnect
// attempt. Idempotent while already Connecting or Connected.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.api.SetToken(token)
	return c.transport.Connect(ctx, token)
}

// Disconnect closes the push connection cleanly, cancels any pending
// reconnection, and clears the cache. Terminal until Connect is called
// again.
func (c *Client) Disconnect() {
	c.transport.Disconnect()
	c.store.Clear()
}

// State returns the current connection state of the push channel.
func (c *Client) State() ConnState {
	return c.transport.State()
}

// ListConversations returns one page of the user's conversations. It
// serves from cache unless forceRefresh is set or the cached page is
// missing or expired; a live fetch repopulates the cache.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int, forceRefresh bool) ([]Conversation, error) {
	if !forceRefresh {
		if convs, ok := c.store.GetConversations(page, pageSize); ok {
			return convs, nil
		}
	}
	convs, err := c.api.ListConversations(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	c.store.PutConversations(page, pageSize, convs)
	return convs, nil
}

// GetConversation returns a conversation and one page of its messages,
// with the same caching contract as ListConversations, keyed by
// conversation id and page.
func (c *Client) GetConversation(ctx context.Context, id string, page, pageSize int, forceRefresh bool) (Conversation, []Message, error) {
	if !forceRefresh {
		if conv, msgs, ok := c.store.GetConversation(id, page, pageSize); ok {
			return conv, msgs, nil
		}
	}
	conv, msgs, err := c.api.GetConversation(ctx, id, page, pageSize)
	if err != nil {
		return Conversation{}, nil, err
	}
	c.store.PutConversation(id, page, pageSize, conv, msgs)
	return conv, msgs, nil
}

// CreateConversation opens a new thread against a facility with its
// initial message. Always a live call; never cached.
func (c *Client) CreateConversation(ctx context.Context, facilityID, subject, initialMessage string, category ConversationCategory) (Conversation, Message, error) {
	return c.api.CreateConversation(ctx, rest.CreateConversationRequest{
		FacilityID: facilityID,
		Subject:    subject,
		Message:    initialMessage,
		Category:   category,
	})
}

// SendMessage delivers a message over the push channel when connected,
// falling back to the HTTP endpoint when the channel is down or the
// write fails. A nil return means the message was accepted by either
// transport; the caller cannot tell which, and does not need to.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string, kind MessageKind, attachmentURL string) error {
	if kind == "" {
		kind = KindText
	}
	frame, err := models.NewFrame(models.CommandSendMessage, models.SendMessageCommand{
		ConversationID: conversationID,
		Body:           body,
		Kind:           kind,
		AttachmentURL:  attachmentURL,
	})
	if err != nil {
		return fmt.Errorf("encoding send_message: %w", err)
	}
	pushErr := c.transport.Send(frame)
	if pushErr == nil {
		return nil
	}
	log.Debug("Push send failed for conversation %s, falling back to HTTP: %v", conversationID, pushErr)
	_, err = c.api.PostMessage(ctx, conversationID, rest.PostMessageRequest{
		Body:          body,
		Kind:          kind,
		AttachmentURL: attachmentURL,
	})
	return err
}

// MarkAsRead marks the whole conversation read for the current user,
// with the same dual-transport behavior as SendMessage.
func (c *Client) MarkAsRead(ctx context.Context, conversationID string) error {
	frame, err := models.NewFrame(models.CommandMarkRead, models.ConversationCommand{ConversationID: conversationID})
	if err != nil {
		return fmt.Errorf("encoding mark_read: %w", err)
	}
	pushErr := c.transport.Send(frame)
	if pushErr == nil {
		return nil
	}
	log.Debug("Push mark_read failed for conversation %s, falling back to HTTP: %v", conversationID, pushErr)
	return c.api.MarkRead(ctx, conversationID)
}

// SetTyping signals a typing state change. Push-only: while disconnected
// it degrades to a no-op and returns false.
func (c *Client) SetTyping(conversationID string, isTyping bool) bool {
	frame, err := models.NewFrame(models.CommandTyping, models.TypingCommand{
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return false
	}
	return c.transport.Send(frame) == nil
}

// JoinConversation signals membership in a conversation's live stream.
// Push-only, best-effort.
func (c *Client) JoinConversation(conversationID string) bool {
	return c.sendConversationSignal(models.CommandJoin, conversationID)
}

// LeaveConversation signals departure from a conversation's live stream.
// Push-only, best-effort.
func (c *Client) LeaveConversation(conversationID string) bool {
	return c.sendConversationSignal(models.CommandLeave, conversationID)
}

func (c *Client) sendConversationSignal(command, conversationID string) bool {
	frame, err := models.NewFrame(command, models.ConversationCommand{ConversationID: conversationID})
	if err != nil {
		return false
	}
	return c.transport.Send(frame) == nil
}

// On subscribes a handler to one of the four event types. Handlers for
// the same type run in registration order.
func (c *Client) On(eventType string, fn Handler) Subscription {
	return c.bus.On(eventType, fn)
}

// Off removes a previously registered handler.
func (c *Client) Off(eventType string, sub Subscription) {
	c.bus.Off(eventType, sub)
}

// OnNewMessage subscribes a typed handler for pushed messages.
func (c *Client) OnNewMessage(fn func(Message)) Subscription {
	return c.bus.On(EventNewMessage, func(ev Event) {
		if e, ok := ev.(NewMessageEvent); ok {
			fn(e.Message)
		}
	})
}

// OnTyping subscribes a typed handler for typing indicators.
func (c *Client) OnTyping(fn func(TypingPayload)) Subscription {
	return c.bus.On(EventTyping, func(ev Event) {
		if e, ok := ev.(TypingEvent); ok {
			fn(e.TypingPayload)
		}
	})
}

// OnMessagesRead subscribes a typed handler for read receipts.
func (c *Client) OnMessagesRead(fn func(MessagesReadPayload)) Subscription {
	return c.bus.On(EventMessagesRead, func(ev Event) {
		if e, ok := ev.(MessagesReadEvent); ok {
			fn(e.MessagesReadPayload)
		}
	})
}

// OnConnectionState subscribes a typed handler for connection state
// transitions. err is non-nil for failure-driven transitions.
func (c *Client) OnConnectionState(fn func(ConnState, error)) Subscription {
	return c.bus.On(EventConnection, func(ev Event) {
		if e, ok := ev.(ConnectionEvent); ok {
			fn(e.State, e.Err)
		}
	})
}

// ClearCache purges all cached pages without touching the connection.
// The pull-to-refresh path uses this.
func (c *Client) ClearCache() {
	c.store.Clear()
}

// PresentableError maps any error returned by this package to a stable,
// user-presentable message.
func PresentableError(err error) string {
	return rest.Presentable(err)
}
