package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/carebridge/messaging/internal/models"
)

// ErrNotConnected is returned by Send while the push channel is down.
// Callers fall back to HTTP or degrade to a no-op.
var ErrNotConnected = errors.New("transport not connected")

// ErrTokenExpired marks a bearer token whose expiry has already passed.
// Retrying the handshake with it cannot succeed, so the reconnect loop
// stops instead of burning its budget.
var ErrTokenExpired = errors.New("bearer token expired")

const defaultDialTimeout = 10 * time.Second

// Config wires a Transport to its collaborators.
type Config struct {
	// Endpoint is the websocket URL of the push channel.
	Endpoint string

	// Backoff governs the autonomous reconnect loop. Zero value means
	// DefaultBackoff.
	Backoff BackoffPolicy

	// DialTimeout bounds each handshake attempt.
	DialTimeout time.Duration

	// OnFrame receives every inbound frame, in arrival order.
	OnFrame func(raw []byte)

	// OnState is invoked on every connection state transition. err is
	// non-nil when the transition was caused by a failure.
	OnState func(state models.ConnState, err error)
}

// Transport owns the persistent connection for the lifetime of a user
// session and drives the Disconnected/Connecting/Connected/Reconnecting
// state machine. After an unclean closure it re-establishes the session
// autonomously under the backoff policy, reusing the same bearer token.
type Transport struct {
	cfg Config

	mu          sync.Mutex
	state       models.ConnState
	conn        *Conn
	token       string
	gen         uint64
	seq         uint64
	retryCancel context.CancelFunc

	// notification slots are claimed under mu and delivered strictly in
	// claim order, so observers see transitions in the order the state
	// machine made them
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	notifySeq  uint64
}

// New creates a Transport in the Disconnected state.
func New(cfg Config) *Transport {
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	t := &Transport{cfg: cfg, state: models.StateDisconnected}
	t.notifyCond = sync.NewCond(&t.notifyMu)
	return t
}

// State returns the current connection state.
func (t *Transport) State() models.ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect opens the persistent connection with the given bearer token.
// It is idempotent while already Connecting or Connected. A handshake
// failure leaves the transport Disconnected and is returned to the
// caller; no retry is scheduled for an explicit connect.
func (t *Transport) Connect(ctx context.Context, token string) error {
	t.mu.Lock()
	switch t.state {
	case models.StateConnected, models.StateConnecting:
		t.mu.Unlock()
		log.Debug("Connect ignored: already %s", t.state)
		return nil
	}
	if t.retryCancel != nil {
		t.retryCancel()
		t.retryCancel = nil
	}
	t.token = token
	t.state = models.StateConnecting
	gen := t.gen
	seq := t.claimSeq()
	t.mu.Unlock()
	t.emit(seq, models.StateConnecting, nil)

	if err := checkToken(token); err != nil {
		t.toDisconnected(err)
		return err
	}
	conn, err := dial(ctx, t.cfg.Endpoint, token, t.cfg.DialTimeout)
	if err != nil {
		t.toDisconnected(err)
		return err
	}
	t.adopt(conn, gen)
	return nil
}

// Disconnect closes the connection cleanly and cancels any pending
// reconnection. The resulting Disconnected state is terminal until the
// application calls Connect again.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.retryCancel != nil {
		t.retryCancel()
		t.retryCancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.gen++
	already := t.state == models.StateDisconnected
	t.state = models.StateDisconnected
	var seq uint64
	if !already {
		seq = t.claimSeq()
	}
	t.mu.Unlock()

	if conn != nil {
		conn.close(true)
	}
	if !already {
		t.emit(seq, models.StateDisconnected, nil)
	}
}

// Send writes one outbound frame to the push channel. It reports
// synchronously whether the write was accepted; no acknowledgement is
// tracked at this layer.
func (t *Transport) Send(frame models.Frame) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == models.StateConnected
	t.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return conn.writeFrame(frame)
}

// adopt installs a freshly dialed session and starts consuming it. gen
// is the generation captured before the dial: when a disconnect or a
// newer connect superseded the attempt while the dial was in flight, the
// session is discarded instead of installed.
func (t *Transport) adopt(conn *Conn, gen uint64) bool {
	t.mu.Lock()
	if t.state != models.StateConnecting || t.gen != gen {
		t.mu.Unlock()
		log.Debug("Discarding session %s: superseded while dialing", conn.sessionID)
		conn.close(true)
		return false
	}
	old := t.conn
	if t.retryCancel != nil {
		t.retryCancel()
		t.retryCancel = nil
	}
	t.gen++
	newGen := t.gen
	t.conn = conn
	t.state = models.StateConnected
	seq := t.claimSeq()
	t.mu.Unlock()

	if old != nil {
		old.close(false)
	}
	t.emit(seq, models.StateConnected, nil)
	go t.consume(conn, newGen)
	return true
}

// consume runs the session's read loop and classifies its end: clean
// closes are terminal, unclean ones hand over to the reconnect loop.
func (t *Transport) consume(conn *Conn, gen uint64) {
	err := conn.readLoop(t.cfg.OnFrame)

	t.mu.Lock()
	if gen != t.gen || t.state != models.StateConnected {
		// superseded by a newer session or an explicit disconnect
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if isCleanClose(err) {
		t.state = models.StateDisconnected
		seq := t.claimSeq()
		t.mu.Unlock()
		conn.close(false)
		log.Info("Server closed the connection cleanly")
		t.emit(seq, models.StateDisconnected, nil)
		return
	}

	t.state = models.StateReconnecting
	ctx, cancel := context.WithCancel(context.Background())
	t.retryCancel = cancel
	token := t.token
	seq := t.claimSeq()
	t.mu.Unlock()

	conn.close(false)
	log.Warn("Connection dropped: %v", err)
	t.emit(seq, models.StateReconnecting, err)
	go t.reconnectLoop(ctx, token)
}

// reconnectLoop retries the handshake under the backoff policy until it
// succeeds, the budget runs out, the token is rejected, or an explicit
// disconnect cancels it.
func (t *Transport) reconnectLoop(ctx context.Context, token string) {
	for attempt := 1; ; attempt++ {
		if t.cfg.Backoff.Exhausted(attempt) {
			t.toDisconnected(fmt.Errorf("reconnect budget exhausted after %d attempts", attempt-1))
			return
		}
		if err := checkToken(token); err != nil {
			t.toDisconnected(err)
			return
		}

		delay := t.cfg.Backoff.Delay(attempt)
		log.Info("Reconnect attempt %d in %v", attempt, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		t.mu.Lock()
		if t.state != models.StateReconnecting {
			t.mu.Unlock()
			return
		}
		t.state = models.StateConnecting
		gen := t.gen
		seq := t.claimSeq()
		t.mu.Unlock()
		t.emit(seq, models.StateConnecting, nil)

		conn, err := dial(ctx, t.cfg.Endpoint, token, t.cfg.DialTimeout)
		if err == nil {
			t.adopt(conn, gen)
			return
		}
		if errors.Is(err, ErrHandshakeRejected) {
			t.toDisconnected(err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("Reconnect attempt %d failed: %v", attempt, err)

		t.mu.Lock()
		if t.state != models.StateConnecting {
			t.mu.Unlock()
			return
		}
		t.state = models.StateReconnecting
		seq = t.claimSeq()
		t.mu.Unlock()
		t.emit(seq, models.StateReconnecting, err)
	}
}

func (t *Transport) toDisconnected(err error) {
	t.mu.Lock()
	if t.state == models.StateDisconnected {
		// an explicit disconnect already won and emitted
		t.mu.Unlock()
		return
	}
	if t.retryCancel != nil {
		t.retryCancel()
		t.retryCancel = nil
	}
	t.state = models.StateDisconnected
	seq := t.claimSeq()
	t.mu.Unlock()
	if err != nil {
		log.Error("Connection failed terminally: %v", err)
	}
	t.emit(seq, models.StateDisconnected, err)
}

// claimSeq reserves the next notification slot. Callers must hold t.mu,
// and every claimed slot must be emitted or later notifications stall.
func (t *Transport) claimSeq() uint64 {
	seq := t.seq
	t.seq++
	return seq
}

// emit delivers one state notification in claim order. The callback runs
// without t.mu held, so handlers may call back into the Transport.
func (t *Transport) emit(seq uint64, state models.ConnState, err error) {
	t.notifyMu.Lock()
	for seq != t.notifySeq {
		t.notifyCond.Wait()
	}
	t.notifyMu.Unlock()

	if t.cfg.OnState != nil {
		t.cfg.OnState(state, err)
	}

	t.notifyMu.Lock()
	t.notifySeq++
	t.notifyCond.Broadcast()
	t.notifyMu.Unlock()
}

// checkToken rejects a bearer token that is already past its expiry.
// Tokens that are not parseable JWTs are passed through untouched; the
// server owns real verification.
func checkToken(token string) error {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return fmt.Errorf("%w (expired %s)", ErrTokenExpired, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return nil
}
