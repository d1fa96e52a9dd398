package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/carebridge/messaging/internal/logger"
	"github.com/carebridge/messaging/internal/models"
)

var log = logger.New("transport")

const (
	readLimit     = 64 * 1024
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
)

// ErrHandshakeRejected marks a handshake the server refused for
// authentication reasons. It is terminal: retrying with the same token
// cannot succeed.
var ErrHandshakeRejected = errors.New("handshake rejected by server")

// Conn is one persistent-connection session: dial, write commands,
// receive frames, close. No business logic lives here.
type Conn struct {
	ws        *websocket.Conn
	sessionID string

	// writes from writeFrame and the keepalive ticker interleave
	writeCh  chan models.Frame
	done     chan struct{}
	doneOnce sync.Once
}

// dial opens one websocket session against endpoint, passing the bearer
// token as the `token` query parameter. A rejected upgrade with an
// authentication status is reported as ErrHandshakeRejected.
func dial(ctx context.Context, endpoint, token string, timeout time.Duration) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrHandshakeRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &Conn{
		ws:        ws,
		sessionID: uuid.NewString(),
		writeCh:   make(chan models.Frame, 16),
		done:      make(chan struct{}),
	}
	go c.writePump()
	log.Info("Session %s connected to %s", c.sessionID, endpoint)
	return c, nil
}

// readLoop reads frames until the session ends and hands each raw frame
// to onFrame, in arrival order. The returned error describes why the
// session ended; isCleanClose classifies it.
func (c *Conn) readLoop(onFrame func([]byte)) error {
	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		onFrame(raw)
	}
}

// writePump owns all writes to the socket: queued frames plus the
// keepalive pings that hold NAT mappings open.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.writeCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteJSON(frame); err != nil {
				log.Warn("Session %s write failed: %v", c.sessionID, err)
				c.close(false)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(false)
				return
			}
		case <-c.done:
			return
		}
	}
}

// writeFrame queues one frame for the socket. It fails fast when the
// session is closed or its write queue is saturated; the caller falls
// back to HTTP in that case. A closed session is checked before the
// queue so a dead write pump never reports success.
func (c *Conn) writeFrame(frame models.Frame) error {
	select {
	case <-c.done:
		return fmt.Errorf("session %s is closed", c.sessionID)
	default:
	}
	select {
	case c.writeCh <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("session %s is closed", c.sessionID)
	default:
		return fmt.Errorf("session %s write queue full", c.sessionID)
	}
}

// close tears the session down; safe to call from any goroutine,
// including the write pump itself. When clean is set a normal close
// frame is sent first so the server sees an orderly goodbye. The close
// frame goes through WriteControl, which gorilla allows concurrently
// with a writer.
func (c *Conn) close(clean bool) {
	first := false
	c.doneOnce.Do(func() {
		close(c.done)
		first = true
	})
	if !first {
		return
	}
	if clean {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(writeDeadline))
	}
	c.ws.Close()
	log.Info("Session %s closed", c.sessionID)
}

// isCleanClose reports whether a read-loop error represents an orderly
// shutdown (peer sent a normal close or is going away) rather than a
// network drop or abnormal close code.
func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
