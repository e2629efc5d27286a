package chat

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity is the host application's view of the local user: a readiness
// signal, an authenticated address, and the signing capability used during
// the auth handshake.
type Identity interface {
	Signer
	// Ready reports that the host finished initializing, independent of
	// authentication. Gates typing, not sending.
	Ready() bool
	// Authenticated reports that the host has a signed-in identity.
	Authenticated() bool
}

// Session is the public surface of the chat subsystem: current message
// list, connectivity predicate, send function, and login trigger. It is the
// only component the rendering layer touches.
type Session struct {
	identity Identity
	login    func()
	onChange func()
	logger   *zap.SugaredLogger

	transcript *Transcript
	queue      *OutboundQueue
	creds      *CredentialCache
	conn       *connManager

	mu     sync.Mutex
	active bool
}

// NewSession composes a session from config and the host identity. The
// zero-options session logs nowhere, persists credentials under the config
// cache dir, and triggers no login flow.
func NewSession(cfg Config, identity Identity, opts ...Option) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Session{
		identity:   identity,
		logger:     zap.NewNop().Sugar(),
		transcript: NewTranscript(),
		queue:      NewOutboundQueue(),
	}

	var so sessionOptions
	for _, opt := range opts {
		opt(&so)
	}
	if so.logger != nil {
		s.logger = so.logger
	}
	s.login = so.login
	s.onChange = so.onChange

	var issuer *Issuer
	if cfg.AuthURL != "" {
		issuer = NewIssuer(cfg.AuthURL, so.httpClient, s.logger)
	}

	store := so.store
	if store == nil && cfg.CacheDir != "" {
		store = NewFileCredentialStore(cfg.CacheDir)
	}
	s.creds = NewCredentialCache(issuer, store, s.logger)

	s.conn = newConnManager(
		cfg.ServerURL,
		s.creds,
		identity,
		s.queue,
		s.handleFrame,
		so.dialer,
		cfg.HandshakeTimeout,
		s.logger,
	)

	return s, nil
}

// Activate brings the session up: the local identity is resolved and the
// connection manager starts establishing a channel.
func (s *Session) Activate() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	s.RefreshIdentity()
	s.conn.activate()
}

// Deactivate tears the session down: the transport is closed and any
// pending reconnect is cancelled. Queued sends survive for the next
// activation.
func (s *Session) Deactivate() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	s.conn.deactivate()
}

// Send transmits a chat message. Blank text is a no-op. When the host has no
// authenticated identity the login flow is triggered instead and nothing is
// appended or transmitted; the UI retries after login completes. Otherwise
// an optimistic self entry appears immediately and the message is either
// written to the open channel or queued while one is established. Never
// blocks.
func (s *Session) Send(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if !s.CanChat() {
		s.RequestLogin()
		return
	}

	s.RefreshIdentity()

	item := QueuedSend{Text: text, CorrelationID: uuid.NewString()}
	s.transcript.AppendLocal(item.Text, item.CorrelationID)
	s.notify()

	if err := s.conn.transmit(item); err != nil {
		s.queue.Enqueue(item)
		s.conn.ensureConnected()
	}
}

// Messages returns a snapshot of the visible transcript.
func (s *Session) Messages() []Message {
	return s.transcript.Messages()
}

// Connected reports whether an open channel to the server exists.
func (s *Session) Connected() bool {
	return s.conn.isOpen()
}

// CanChat reports whether sending is possible: the host reports an
// authenticated identity and a non-empty address.
func (s *Session) CanChat() bool {
	return s.identity != nil && s.identity.Authenticated() && s.identity.Address() != ""
}

// CanType reports whether the compose box should be enabled. True once the
// host readiness signal fires, independent of authentication, so a user can
// type before login completes.
func (s *Session) CanType() bool {
	return s.identity != nil && s.identity.Ready()
}

// RequestLogin invokes the host login flow, if one was configured.
func (s *Session) RequestLogin() {
	if s.login != nil {
		s.login()
	}
}

// RefreshIdentity re-reads the host identity and retroactively re-attributes
// transcript entries to self where their address now matches. Call whenever
// the active identity becomes known or changes.
func (s *Session) RefreshIdentity() {
	if s.identity == nil {
		return
	}
	addr := s.identity.Address()
	if addr == "" || strings.EqualFold(addr, s.transcript.LocalAddress()) {
		return
	}
	s.transcript.SetLocalAddress(addr)
	s.notify()
}

// handleFrame dispatches one decoded inbound frame into the transcript.
// Runs on the read pump; frames are applied in the order received.
func (s *Session) handleFrame(f Frame) {
	switch f := f.(type) {
	case HistoryFrame:
		s.transcript.ApplyHistory(f)
	case MessageFrame:
		s.transcript.ApplyMessage(f)
	case ErrorFrame:
		if f.Code == errCodeAuthRequired {
			// The server no longer honors our token; the next attempt
			// must mint a fresh one.
			s.creds.Invalidate()
			s.conn.forceNextRefresh()
		}
		s.transcript.ApplyError(f)
	case MalformedFrame:
		s.logger.Debugw("unparseable frame", "raw", f.Raw)
		s.transcript.AppendRaw(f.Raw)
	}
	s.notify()
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
