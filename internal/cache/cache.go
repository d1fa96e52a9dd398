package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/carebridge/messaging/internal/logger"
	"github.com/carebridge/messaging/internal/models"
)

// DefaultTTL is how long a cached server answer stays valid.
const DefaultTTL = 5 * time.Minute

var log = logger.New("cache")

type entry struct {
	payload   any
	fetchedAt time.Time
}

type conversationDetail struct {
	conversation models.Conversation
	messages     []models.Message
}

// cloneConversation makes the copy deep enough to hand out: the
// LastMessage preview is a pointer and must never be shared between the
// cache and its producers or consumers.
func cloneConversation(conv models.Conversation) models.Conversation {
	if conv.LastMessage != nil {
		preview := *conv.LastMessage
		conv.LastMessage = &preview
	}
	return conv
}

// Cache holds recently fetched conversation-list pages and
// per-conversation message pages. Entries expire by TTL-on-read: an
// expired entry is treated as absent, not deleted, until overwritten.
// Callers always receive copies of cached values.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// New creates a cache with the given TTL. A non-positive ttl falls back
// to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// SetClock replaces the time source. Tests use this to cross the TTL
// boundary deterministically.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func conversationsKey(page, pageSize int) string {
	return fmt.Sprintf("conversations:p%d:s%d", page, pageSize)
}

func messagesKey(conversationID string, page, pageSize int) string {
	return fmt.Sprintf("conversation:%s:p%d:s%d", conversationID, page, pageSize)
}

// get must be called with at least a read lock held.
func (c *Cache) get(key string) (any, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.payload, true
}

func (c *Cache) put(key string, payload any) {
	c.entries[key] = entry{payload: payload, fetchedAt: c.now()}
}

// GetConversations returns the cached conversation-list page, if present
// and unexpired. The second result distinguishes a miss from an empty
// page.
func (c *Cache) GetConversations(page, pageSize int) ([]models.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	payload, ok := c.get(conversationsKey(page, pageSize))
	if !ok {
		return nil, false
	}
	convs := payload.([]models.Conversation)
	return lo.Map(convs, func(conv models.Conversation, _ int) models.Conversation { return cloneConversation(conv) }), true
}

// PutConversations stores a conversation-list page, overwriting any
// prior entry unconditionally.
func (c *Cache) PutConversations(page, pageSize int, convs []models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(conversationsKey(page, pageSize), lo.Map(convs, func(conv models.Conversation, _ int) models.Conversation { return cloneConversation(conv) }))
}

// GetConversation returns the cached detail page for a conversation, if
// present and unexpired.
func (c *Cache) GetConversation(conversationID string, page, pageSize int) (models.Conversation, []models.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	payload, ok := c.get(messagesKey(conversationID, page, pageSize))
	if !ok {
		return models.Conversation{}, nil, false
	}
	d := payload.(conversationDetail)
	msgs := lo.Map(d.messages, func(m models.Message, _ int) models.Message { return m })
	return cloneConversation(d.conversation), msgs, true
}

// PutConversation stores a conversation detail page.
func (c *Cache) PutConversation(conversationID string, page, pageSize int, conv models.Conversation, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(messagesKey(conversationID, page, pageSize), conversationDetail{
		conversation: cloneConversation(conv),
		messages:     lo.Map(msgs, func(m models.Message, _ int) models.Message { return m }),
	})
}

// AppendMessage opportunistically appends a pushed message to every
// already-cached, unexpired message page of its conversation, without a
// refetch. The entry's fetch timestamp is left untouched so the page
// still expires on the original schedule. Returns how many pages were
// updated.
func (c *Cache) AppendMessage(msg models.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := fmt.Sprintf("conversation:%s:", msg.ConversationID)
	updated := 0
	for key, e := range c.entries {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if c.now().Sub(e.fetchedAt) >= c.ttl {
			continue
		}
		d, ok := e.payload.(conversationDetail)
		if !ok {
			continue
		}
		if lo.ContainsBy(d.messages, func(m models.Message) bool { return m.ID == msg.ID }) {
			continue
		}
		preview := msg
		d.messages = append(d.messages, msg)
		d.conversation.LastActivityAt = msg.CreatedAt
		d.conversation.LastMessage = &preview
		c.entries[key] = entry{payload: d, fetchedAt: e.fetchedAt}
		updated++
	}
	if updated > 0 {
		log.Debug("Appended message %s to %d cached page(s) of conversation %s", msg.ID, updated, msg.ConversationID)
	}
	return updated
}

// Clear purges all entries. Called on disconnect and logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}
