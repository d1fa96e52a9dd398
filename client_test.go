package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/messaging/internal/models"
)

// backendHarness fakes the whole backend: the websocket push endpoint
// and every REST fallback endpoint, with call counters per route.
type backendHarness struct {
	server  *httptest.Server
	inbound chan []byte

	mu          sync.Mutex
	wsConns     []*gorilla.Conn
	listCalls   int
	detailCalls int
	postCalls   int
	putCalls    int
	lastPost    map[string]any
}

func newBackendHarness(t *testing.T) *backendHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &backendHarness{inbound: make(chan []byte, 32)}
	upgrader := gorilla.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.wsConns = append(h.wsConns, conn)
		h.mu.Unlock()
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				h.inbound <- raw
			}
		}()
	})
	router.GET("/api/conversations", func(c *gin.Context) {
		h.mu.Lock()
		h.listCalls++
		h.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"success": true, "data": []models.Conversation{
			{ID: "c1", Subject: "Lab results", Category: models.CategoryGeneral},
		}})
	})
	router.GET("/api/conversations/:id", func(c *gin.Context) {
		h.mu.Lock()
		h.detailCalls++
		h.mu.Unlock()
		id := c.Param("id")
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
			"conversation": models.Conversation{ID: id, Subject: "Lab results"},
			"messages":     []models.Message{{ID: "m1", ConversationID: id, Body: "Results are ready"}},
		}})
	})
	router.POST("/api/conversations/:id/messages", func(c *gin.Context) {
		var body map[string]any
		_ = c.ShouldBindJSON(&body)
		h.mu.Lock()
		h.postCalls++
		h.lastPost = body
		h.mu.Unlock()
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": models.Message{
			ID: "m-http", ConversationID: c.Param("id"),
		}})
	})
	router.PUT("/api/conversations/:id/read", func(c *gin.Context) {
		h.mu.Lock()
		h.putCalls++
		h.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

func (h *backendHarness) config() Config {
	return Config{
		WebSocketURL:         "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws",
		APIBaseURL:           h.server.URL,
		CacheTTL:             5 * time.Minute,
		BackoffBase:          5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		DialTimeout:          2 * time.Second,
	}
}

func (h *backendHarness) counts() (list, detail, post, put int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listCalls, h.detailCalls, h.postCalls, h.putCalls
}

func (h *backendHarness) pushFrame(t *testing.T, frameType string, data any) {
	t.Helper()
	frame, err := models.NewFrame(frameType, data)
	require.NoError(t, err)
	h.mu.Lock()
	conn := h.wsConns[len(h.wsConns)-1]
	h.mu.Unlock()
	require.NoError(t, conn.WriteJSON(frame))
}

// nextInbound waits for the next frame the server received and decodes it.
func (h *backendHarness) nextInbound(t *testing.T) models.Frame {
	t.Helper()
	select {
	case raw := <-h.inbound:
		var frame models.Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a frame")
		return models.Frame{}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{WebSocketURL: "::not a url::", APIBaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestSendMessageWhileDisconnectedFallsBackExactlyOnce(t *testing.T) {
	h := newBackendHarness(t)
	client, err := New(h.config())
	require.NoError(t, err)

	// never connected: the push path must silently yield to HTTP
	require.NotPanics(t, func() {
		err = client.SendMessage(context.Background(), "42", "hello", KindText, "")
	})
	require.NoError(t, err)

	_, _, post, _ := h.counts()
	assert.Equal(t, 1, post, "exactly one HTTP call")

	h.mu.Lock()
	body := h.lastPost
	h.mu.Unlock()
	assert.Equal(t, "hello", body["message"])
	assert.Equal(t, "text", body["message_type"])
}

func TestSendMessagePrefersPushWhenConnected(t *testing.T) {
	h := newBackendHarness(t)
	client, err := New(h.config())
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background(), "token-abc"))
	defer client.Disconnect()

	require.NoError(t, client.SendMessage(context.Background(), "42", "hello", KindText, ""))

	frame := h.nextInbound(t)
	assert.Equal(t, models.CommandSendMessage, frame.Type)

	var cmd models.SendMessageCommand
	require.NoError(t, json.Unmarshal(frame.Data, &cmd))
	assert.Equal(t, "42", cmd.ConversationID)
	assert.Equal(t, "hello", cmd.Body)

	_, _, post, _ := h.counts()
	assert.Zero(t, post, "no HTTP call when the push write succeeds")
}

func TestMarkAsReadFallsBackWhileDisconnected(t *testing.T) {
	h := newBackendHarness(t)
	client, err := New(h.config())
	require.NoError(t, err)

	require.NoError(t, client.MarkAsRead(context.Background(), "42"))

	_, _, _, put := h.counts()
	assert.Equal(t, 1, put)
}

func TestTypingAndMembershipSignalsDegradeToNoOps(t *testing.T) {
	h := newBackendHarness(t)
	client, err := New(h.config())
	require.NoError(t, err)

	assert.False(t, client.SetTyping("42", true))
	assert.False(t, client.JoinConversation("42"))
	assert.False(t, client.LeaveConversation("42"))

	_, _, post, put := h.counts()
	assert.Zero(t, post, "soft signals have no HTTP fallback")
	assert.Zero(t, put)

	require.NoError(t, client.Connect(context.Background(), "token-abc"))
	defer client.Disconnect()

	assert.True(t, client.JoinConversation("42"))
	assert.Equal(t, models.CommandJoin, h.nextInbound(t).Type)

	assert.True(t, client.SetTyping("42", true))
	assert.Equal(t, models.CommandTyping, h.nextInbound(t).Type)

	assert.True(t, client.LeaveConversation("42"))
	assert.Equal(t, models.CommandLeave, h.nextInbound(t).Type)
}

func TestListConversationsCachingContract(t *testing.T) {
	h := newBackendHarness(t)
	client, err := New(h.config())
	require.NoError(t, err)
	ctx := context.Background()

	convs, err := client.ListConversations(ctx, 1, 20, false)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	_, err = client.ListConversations(ctx, 1, 20, false)
	require.NoError(t, err)
	list, _, _, _ := h.counts()
	assert.Equal(t, 1, list, "second read must come from cache")

	_, err = client.ListConversations(ctx, 1, 20, true)
	require.NoError(t, err)
	list, _, _, _ = h.counts()
	assert.Equal(t, 2, list, "forceRefresh must bypass the cache")

	_, err = client.ListConversations(ctx, 2, 20, false)
	require.NoError(t, err)
	list, _, _, _ = h.counts()
	assert.Equal(t, 3, list, "a different page is a different cache key")
}

func TestPushedMessageReachesHandlerAndCachedPage(t *testing.T) {
	h := newBackendHarness(t)
	client, err := New(h.config())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, client.Connect(ctx, "token-abc"))
	defer client.Disconnect()

	// prime the cache for conversation 42
	_, msgs, err := client.GetConversation(ctx, "42", 1, 50, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	received := make(chan Message, 1)
	client.OnNewMessage(func(msg Message) { received <- msg })

	pushed := models.Message{
		ID:             "m2",
		ConversationID: "42",
		SenderID:       "dr-lee",
		Body:           "See you Monday",
		Kind:           models.KindText,
	}
	h.pushFrame(t, models.EventNewMessage, pushed)

	select {
	case msg := <-received:
		assert.Equal(t, "See you Monday", msg.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("new_message never reached the handler")
	}

	// the cached page gained the message without a refetch
	require.Eventually(t, func() bool {
		_, msgs, err := client.GetConversation(ctx, "42", 1, 50, false)
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, detail, _, _ := h.counts()
	assert.Equal(t, 1, detail, "no refetch after the push")
}

func TestConnectionEventsReachSubscribers(t *testing.T) {
	h := newBackendHarness(t)
	client, err := New(h.config())
	require.NoError(t, err)

	var mu sync.Mutex
	var states []ConnState
	client.OnConnectionState(func(state ConnState, _ error) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background(), "token-abc"))
	assert.Equal(t, StateConnected, client.State())
	client.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnState{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestDisconnectClearsCache(t *testing.T) {
	h := newBackendHarness(t)
	client, err := New(h.config())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.ListConversations(ctx, 1, 20, false)
	require.NoError(t, err)

	client.Disconnect()

	_, err = client.ListConversations(ctx, 1, 20, false)
	require.NoError(t, err)
	list, _, _, _ := h.counts()
	assert.Equal(t, 2, list, "disconnect must clear the cache")
}

func TestOffStopsDelivery(t *testing.T) {
	h := newBackendHarness(t)
	client, err := New(h.config())
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background(), "token-abc"))
	defer client.Disconnect()

	calls := make(chan struct{}, 4)
	sub := client.On(EventTyping, func(Event) { calls <- struct{}{} })

	h.pushFrame(t, models.EventTyping, models.TypingPayload{ConversationID: "42", UserID: "u1", IsTyping: true})
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("typing event never delivered")
	}

	client.Off(EventTyping, sub)
	h.pushFrame(t, models.EventTyping, models.TypingPayload{ConversationID: "42", UserID: "u1", IsTyping: false})

	time.Sleep(100 * time.Millisecond)
	select {
	case <-calls:
		t.Fatal("handler invoked after Off")
	default:
	}
}
