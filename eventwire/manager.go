package eventwire

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orbit-chat/orbit-client/internal/logger"
)

// Connection states. Transitions: connecting -> connected -> {disconnected, error}.
// connecting is re-entered on visibility regain or credential refresh.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

var (
	ErrClosed       = errors.New("eventwire: connection closed")
	ErrNotConnected = errors.New("eventwire: not connected")
	ErrUnauthorized = errors.New("eventwire: unauthorized")
)

// CredentialSource supplies the current credential and a refresh operation.
// Implemented by the session package; the manager never stores credentials.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Manager owns the single authenticated event-channel connection.
//
// On transport error it attempts one session refresh and reconnects with the
// fresh credential; if that fails it surfaces StateError and leaves further
// retries to the embedding shell (NotifyVisible re-enters connecting).
// Every successful (re)connect fires the one-shot resync signal so dependent
// stores re-request authoritative snapshots instead of trusting stale caches.
type Manager struct {
	url    string
	creds  CredentialSource
	dialer *websocket.Dialer
	tuning Tuning

	mu         sync.Mutex
	state      State
	cur        *conn
	deliberate bool
	handler    Handler
	stateSubs  []func(State)
	resyncSubs []func()
}

// NewManager creates a manager for the given ws(s):// event URL.
// handler receives every inbound event; it must not be nil. Zero tuning
// fields fall back to the wire defaults.
func NewManager(wsURL string, creds CredentialSource, handler Handler, tuning Tuning) *Manager {
	return &Manager{
		url:     wsURL,
		creds:   creds,
		dialer:  websocket.DefaultDialer,
		tuning:  tuning.withDefaults(),
		state:   StateDisconnected,
		handler: handler,
	}
}

// OnStateChange registers a state observer. Observers are called outside the
// manager lock, in registration order.
func (m *Manager) OnStateChange(f func(State)) {
	m.mu.Lock()
	m.stateSubs = append(m.stateSubs, f)
	m.mu.Unlock()
}

// OnResync registers a resync observer, fired after every successful (re)connect.
func (m *Manager) OnResync(f func()) {
	m.mu.Lock()
	m.resyncSubs = append(m.resyncSubs, f)
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	subs := make([]func(State), len(m.stateSubs))
	copy(subs, m.stateSubs)
	m.mu.Unlock()
	for _, f := range subs {
		f(s)
	}
}

// casState transitions from -> to atomically with the check and reports
// whether the transition happened. Used where two reconnect paths could race
// each other into dialing a second socket.
func (m *Manager) casState(from, to State) bool {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return false
	}
	m.state = to
	subs := make([]func(State), len(m.stateSubs))
	copy(subs, m.stateSubs)
	m.mu.Unlock()
	for _, f := range subs {
		f(to)
	}
	return true
}

func (m *Manager) fireResync() {
	m.mu.Lock()
	subs := make([]func(), len(m.resyncSubs))
	copy(subs, m.resyncSubs)
	m.mu.Unlock()
	for _, f := range subs {
		f()
	}
}

// Connect dials the event channel. On an auth rejection it refreshes the
// session once and retries with the new credential.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	// Claim the connecting state under the same lock as the check, so a
	// racing Connect cannot slip through and dial a second socket.
	m.deliberate = false
	m.state = StateConnecting
	subs := make([]func(State), len(m.stateSubs))
	copy(subs, m.stateSubs)
	m.mu.Unlock()
	for _, f := range subs {
		f(StateConnecting)
	}

	token, err := m.creds.Token(ctx)
	if err != nil {
		m.setState(StateError)
		return err
	}

	ws, err := m.dial(ctx, token)
	if errors.Is(err, ErrUnauthorized) {
		token, err = m.creds.Refresh(ctx)
		if err == nil {
			ws, err = m.dial(ctx, token)
		}
	}
	if err != nil {
		m.setState(StateError)
		return err
	}

	c := newConn(ws, m.tuning, m.handler, nil)
	c.onClose = func(closeErr error) { m.handleClose(c, closeErr) }
	connCtx, cancel := context.WithCancel(context.Background())
	c.start(connCtx, cancel)

	m.mu.Lock()
	m.cur = c
	m.mu.Unlock()
	m.setState(StateConnected)
	m.fireResync()
	return nil
}

func (m *Manager) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, resp, err := m.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return ws, nil
}

// Disconnect closes the connection deliberately; no refresh or reconnect is attempted.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.deliberate = true
	c := m.cur
	m.cur = nil
	m.mu.Unlock()
	if c != nil {
		c.close()
		c.wait()
	}
	m.setState(StateDisconnected)
}

// NotifyVisible re-enters connecting when the shell regains visibility while
// the connection is down. No-op while connected.
func (m *Manager) NotifyVisible(ctx context.Context) {
	m.mu.Lock()
	down := m.state == StateDisconnected || m.state == StateError
	m.mu.Unlock()
	if !down {
		return
	}
	if err := m.Connect(ctx); err != nil {
		logger.Errorf("eventwire reconnect on visibility: %v", err)
	}
}

// CredentialChanged reconnects with the current credential. Called by the
// shell whenever the session store rotates the credential underneath us.
func (m *Manager) CredentialChanged(ctx context.Context) {
	m.Disconnect()
	if err := m.Connect(ctx); err != nil {
		logger.Errorf("eventwire reconnect on credential change: %v", err)
	}
}

// handleClose runs when a connection's pumps exit. A deliberate disconnect
// stays down; a transport fault refreshes the session and reconnects once.
func (m *Manager) handleClose(c *conn, closeErr error) {
	m.mu.Lock()
	if m.cur != c {
		// Already superseded by a newer connection.
		m.mu.Unlock()
		return
	}
	m.cur = nil
	deliberate := m.deliberate
	m.mu.Unlock()

	if deliberate {
		m.setState(StateDisconnected)
		return
	}
	if closeErr != nil {
		logger.Infof("eventwire connection lost: %v", closeErr)
	}
	m.setState(StateDisconnected)

	// A NotifyVisible racing this path may already be redialing; only one
	// side gets to claim connecting.
	if !m.casState(StateDisconnected, StateConnecting) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	token, err := m.creds.Refresh(ctx)
	if err != nil {
		logger.Errorf("eventwire session refresh: %v", err)
		m.setState(StateError)
		return
	}
	ws, err := m.dial(ctx, token)
	if err != nil {
		logger.Errorf("eventwire redial: %v", err)
		m.setState(StateError)
		return
	}

	nc := newConn(ws, m.tuning, m.handler, nil)
	nc.onClose = func(e error) { m.handleClose(nc, e) }
	connCtx, connCancel := context.WithCancel(context.Background())
	nc.start(connCtx, connCancel)

	m.mu.Lock()
	m.cur = nc
	m.mu.Unlock()
	m.setState(StateConnected)
	m.fireResync()
}

// Send queues an outbound action on the live connection.
func (m *Manager) Send(typ EventType, payload any) error {
	m.mu.Lock()
	c := m.cur
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.enqueue(OutgoingMessage{Type: typ, Payload: payload})
}
