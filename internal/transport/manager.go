package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rfchat/internal/logging"
	"rfchat/internal/sdp"
)

var tlog = logging.For("transport")

// Manager enforces the one-connection-per-process rule. It owns a Host and
// a Client over the same Radio; taking on either role first tears down
// whatever connection or advertisement is active.
type Manager struct {
	host     *Host
	client   *Client
	observer Observer

	switchMu sync.Mutex // serializes role changes

	mu         sync.Mutex
	ep         *Endpoint // client-side connection
	cancelJoin context.CancelFunc
	joinSeq    uint64
}

// NewManager creates a manager reporting every event to observer.
func NewManager(r Radio, observer Observer, opts ...Option) *Manager {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	m := &Manager{observer: observer}
	m.host = NewHost(r, r, observer, opts...)
	m.client = NewClient(r, r, &clientObserver{observer: observer}, opts...)
	return m
}

// Host closes any current connection and starts advertising d.
func (m *Manager) Host(ctx context.Context, d sdp.Descriptor) error {
	m.abortJoin()
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.closeAll()
	if err := m.host.Start(ctx, d); err != nil {
		m.observer.OnError(err)
		return err
	}
	return nil
}

// Discover lists visible chat services.
func (m *Manager) Discover(ctx context.Context) ([]ServiceHandle, error) {
	handles, err := m.client.Discover(ctx)
	if err != nil {
		m.observer.OnError(err)
		return nil, err
	}
	if len(handles) == 0 {
		m.observer.OnStatus("no chat services were found; make sure a peer is advertising the chat service")
	}
	return handles, nil
}

// Join closes any current connection, then validates and connects to h.
// A Join still in progress is canceled by the next Join, Host or Disconnect.
func (m *Manager) Join(ctx context.Context, h ServiceHandle) (sdp.Descriptor, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	seq := m.beginJoin(cancel)
	defer m.endJoin(seq)

	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.closeAll()

	m.observer.OnStatus("connecting to " + h.Name)
	if err := ctx.Err(); err != nil {
		m.observer.OnError(err)
		return sdp.Descriptor{}, err
	}
	ep, d, err := m.client.Connect(ctx, h)
	if err != nil {
		m.observer.OnError(err)
		return sdp.Descriptor{}, err
	}

	m.mu.Lock()
	m.ep = ep
	m.mu.Unlock()
	m.observer.OnStatus(fmt.Sprintf("service name: %q", d.Name))
	return d, nil
}

// Send writes text on the active connection.
func (m *Manager) Send(text string) error {
	ep := m.Endpoint()
	if ep == nil {
		m.notConnected()
		return ErrNotConnected
	}
	err := ep.Send(text)
	if errors.Is(err, ErrNotConnected) {
		m.notConnected()
	}
	return err
}

func (m *Manager) notConnected() {
	m.observer.OnStatus("no clients connected, please wait for a client to connect before attempting to send a message")
}

// Endpoint returns the active connection in either role, or nil.
func (m *Manager) Endpoint() *Endpoint {
	m.mu.Lock()
	ep := m.ep
	m.mu.Unlock()
	if ep != nil {
		return ep
	}
	return m.host.Endpoint()
}

// HostState reports the state of the host role.
func (m *Manager) HostState() HostState {
	return m.host.State()
}

// Disconnect stops hosting and closes any connection. It is idempotent.
func (m *Manager) Disconnect() {
	m.abortJoin()
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.closeAll()
	m.observer.OnStatus("disconnected")
}

// beginJoin registers cancel as the in-flight join, canceling any older one.
func (m *Manager) beginJoin(cancel context.CancelFunc) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelJoin != nil {
		m.cancelJoin()
	}
	m.joinSeq++
	m.cancelJoin = cancel
	return m.joinSeq
}

func (m *Manager) endJoin(seq uint64) {
	m.mu.Lock()
	if m.joinSeq == seq {
		m.cancelJoin = nil
	}
	m.mu.Unlock()
}

func (m *Manager) abortJoin() {
	m.mu.Lock()
	cancel := m.cancelJoin
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// closeAll must be called with switchMu held.
func (m *Manager) closeAll() {
	m.host.Stop()

	m.mu.Lock()
	ep := m.ep
	m.ep = nil
	m.mu.Unlock()
	if ep != nil {
		_ = ep.Close()
	}
}

type clientObserver struct {
	observer Observer
}

func (o *clientObserver) OnMessage(text string) { o.observer.OnMessage(text) }

func (o *clientObserver) OnStatus(text string) { o.observer.OnStatus(text) }

func (o *clientObserver) OnError(err error) { o.observer.OnError(err) }

func (o *clientObserver) OnClosed(reason CloseReason) {
	o.observer.OnClosed(reason)
	if reason == RemoteDisconnected {
		o.observer.OnStatus("host disconnected")
	}
}
