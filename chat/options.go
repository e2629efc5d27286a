package chat

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type sessionOptions struct {
	logger     *zap.SugaredLogger
	login      func()
	onChange   func()
	dialer     *websocket.Dialer
	httpClient *http.Client
	store      CredentialStore
}

// Option mutates a Session during construction.
type Option func(*sessionOptions)

// WithLogger sets the session logger. Defaults to a no-op logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}

// WithLoginHandler registers the host login flow, invoked when a send is
// attempted without an authenticated identity.
func WithLoginHandler(login func()) Option {
	return func(o *sessionOptions) {
		o.login = login
	}
}

// WithOnChange registers a callback fired whenever the visible message list
// changes. UIs use it to re-render; it must not block.
func WithOnChange(onChange func()) Option {
	return func(o *sessionOptions) {
		o.onChange = onChange
	}
}

// WithDialer overrides the websocket dialer used to open channels.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *sessionOptions) {
		o.dialer = dialer
	}
}

// WithHTTPClient overrides the HTTP client used for the auth handshake.
func WithHTTPClient(client *http.Client) Option {
	return func(o *sessionOptions) {
		o.httpClient = client
	}
}

// WithCredentialStore overrides credential persistence. Defaults to a JSON
// file under the configured cache dir, or process memory when no dir is
// configured.
func WithCredentialStore(store CredentialStore) Option {
	return func(o *sessionOptions) {
		o.store = store
	}
}
