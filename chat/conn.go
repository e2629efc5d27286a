package chat

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by transmit when no open channel exists.
var ErrNotConnected = errors.New("chat: channel not open")

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 10 * time.Second
	maxBackoffAttempt  = 10
)

// backoffDelay computes the reconnect delay for the given attempt:
// min(1s * 2^attempt, 10s).
func backoffDelay(attempt int) time.Duration {
	if attempt > maxBackoffAttempt {
		attempt = maxBackoffAttempt
	}
	d := reconnectBaseDelay << uint(attempt)
	if d > reconnectMaxDelay {
		d = reconnectMaxDelay
	}
	return d
}

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
	stateClosed
)

// connManager owns the lifecycle of a single logical channel to the chat
// server: open, authenticate, flush the outbound queue, receive frames,
// detect failure, and schedule reconnection with exponential backoff. At
// most one transport is active at a time; opening a new one supersedes the
// previous.
type connManager struct {
	serverURL        string
	creds            *CredentialCache
	identity         Identity
	queue            *OutboundQueue
	onFrame          func(Frame)
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	logger           *zap.SugaredLogger

	mu               sync.Mutex
	ws               *websocket.Conn
	state            connState
	attempt          int
	reconnectPending bool
	reconnectTimer   *time.Timer
	active           bool // liveness flag; no transitions after teardown
	forceRefresh     bool // next credential fetch bypasses the cache
}

func newConnManager(
	serverURL string,
	creds *CredentialCache,
	identity Identity,
	queue *OutboundQueue,
	onFrame func(Frame),
	dialer *websocket.Dialer,
	handshakeTimeout time.Duration,
	logger *zap.SugaredLogger,
) *connManager {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &connManager{
		serverURL:        serverURL,
		creds:            creds,
		identity:         identity,
		queue:            queue,
		onFrame:          onFrame,
		dialer:           dialer,
		handshakeTimeout: handshakeTimeout,
		logger:           logger,
	}
}

// activate marks the manager live and starts the first connection attempt.
func (m *connManager) activate() {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.mu.Unlock()

	go m.connect()
}

// deactivate closes any open transport and cancels any pending reconnect
// timer. Queued sends are kept for the next activation.
func (m *connManager) deactivate() {
	m.mu.Lock()
	m.active = false
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectPending = false
	ws := m.ws
	m.ws = nil
	m.state = stateIdle
	m.attempt = 0
	m.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	m.logger.Infow("channel deactivated")
}

// ensureConnected kicks off a connection attempt if none is live or already
// scheduled. Called when a send happens with no open channel.
func (m *connManager) ensureConnected() {
	m.mu.Lock()
	start := m.active &&
		m.state != stateOpen &&
		m.state != stateConnecting &&
		!m.reconnectPending
	m.mu.Unlock()

	if start {
		go m.connect()
	}
}

// isOpen reports whether an authenticated transport is ready for writes.
func (m *connManager) isOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateOpen && m.ws != nil
}

// forceNextRefresh makes the next connection attempt mint a fresh
// credential. Set after the server rejected the previous one.
func (m *connManager) forceNextRefresh() {
	m.mu.Lock()
	m.forceRefresh = true
	m.mu.Unlock()
}

// channelAddress embeds the bearer token into the server URL as a query
// parameter. An absent token means an unauthenticated connection; the server
// may still allow read-only history.
func channelAddress(serverURL, token string) string {
	if token == "" {
		return serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *connManager) connect() {
	m.mu.Lock()
	if !m.active || m.state == stateOpen || m.state == stateConnecting {
		m.mu.Unlock()
		return
	}
	m.state = stateConnecting
	force := m.forceRefresh
	m.forceRefresh = false
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.handshakeTimeout)
	defer cancel()

	addr := m.serverURL
	if cred, err := m.creds.Get(ctx, m.identity, force); err != nil {
		m.logger.Debugw("connecting without credential", "reason", err)
	} else {
		addr = channelAddress(m.serverURL, cred.Token)
	}

	ws, resp, err := m.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		if isAuthRejection(err, resp) {
			m.creds.Invalidate()
			m.forceNextRefresh()
		}
		m.logger.Warnw("channel dial failed", "url", m.serverURL, "error", err)
		m.mu.Lock()
		m.state = stateClosed
		m.mu.Unlock()
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		ws.Close()
		return
	}
	if m.ws != nil {
		m.ws.Close() // supersede the previous transport
	}
	m.ws = ws
	m.state = stateOpen
	m.attempt = 0
	m.mu.Unlock()

	m.logger.Infow("channel open", "url", m.serverURL)

	go m.readPump(ws)

	if err := m.queue.DrainInto(m.transmit); err != nil {
		m.logger.Warnw("queue flush interrupted", "error", err)
	}
}

// isAuthRejection detects a handshake refused because of a bad credential.
func isAuthRejection(err error, resp *http.Response) bool {
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
}

// transmit writes one queued item to the open transport. Writes are
// serialized under the manager mutex.
func (m *connManager) transmit(item QueuedSend) error {
	payload, err := encodeOutbound(item)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateOpen || m.ws == nil {
		return ErrNotConnected
	}
	return m.ws.WriteMessage(websocket.TextMessage, payload)
}

// readPump applies inbound frames in the order received until the transport
// fails, then hands off to the reconnect scheduler. A pump belonging to a
// superseded transport exits without touching manager state.
func (m *connManager) readPump(ws *websocket.Conn) {
	defer ws.Close()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := m.ws != ws
			if !stale {
				m.ws = nil
				m.state = stateClosed
			}
			alive := m.active
			m.mu.Unlock()

			if stale || !alive {
				return
			}
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				// Server revoked the credential mid-session.
				m.creds.Invalidate()
				m.forceNextRefresh()
			}
			m.logger.Warnw("channel closed", "error", err)
			m.scheduleReconnect()
			return
		}
		m.onFrame(decodeFrame(raw))
	}
}

// scheduleReconnect arms the backoff timer for the next attempt. Only one
// reconnection may be in flight at a time; error and close firing together
// collapse into a single timer.
func (m *connManager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active || m.reconnectPending || m.state == stateOpen {
		return
	}
	m.reconnectPending = true

	delay := backoffDelay(m.attempt)
	if m.attempt < maxBackoffAttempt {
		m.attempt++
	}
	m.logger.Infow("reconnect scheduled", "delay", delay, "attempt", m.attempt)

	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectPending = false
		m.reconnectTimer = nil
		alive := m.active
		m.mu.Unlock()

		if !alive {
			return
		}
		m.connect()
	})
}
