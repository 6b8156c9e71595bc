package transport

import (
	"context"
	"errors"
	"sync"

	"rfchat/internal/sdp"
)

// HostState is the lifecycle state of a Host.
type HostState int

const (
	HostIdle HostState = iota
	HostAdvertising
	HostAwaitingConnection
	HostConnected
	HostStopped // accepting failed; Start may be called again
)

func (s HostState) String() string {
	switch s {
	case HostIdle:
		return "idle"
	case HostAdvertising:
		return "advertising"
	case HostAwaitingConnection:
		return "awaiting connection"
	case HostConnected:
		return "connected"
	case HostStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var errHostStopped = errors.New("host stopped during setup")

// Host is the listening role: it advertises the chat service, accepts exactly
// one peer and hands the stream to an Endpoint.
type Host struct {
	adv      Advertiser
	ln       Listener
	observer Observer
	opts     []Option

	mu    sync.Mutex
	state HostState
	sess  *hostSession
}

// hostSession holds the resources of one Start..Stop cycle.
type hostSession struct {
	binding Binding
	advert  Advertisement
	cancel  context.CancelFunc
	ep      *Endpoint
}

// NewHost creates an idle host. Endpoint options in opts apply to the
// accepted connection.
func NewHost(adv Advertiser, ln Listener, observer Observer, opts ...Option) *Host {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	return &Host{
		adv:      adv,
		ln:       ln,
		observer: observer,
		opts:     opts,
	}
}

// Start binds the service, publishes d and waits in the background for one
// inbound connection. ctx bounds both the setup and that wait. Setup
// failures are returned as *AdvertiseError; a later accept failure is
// reported to OnError.
func (h *Host) Start(ctx context.Context, d sdp.Descriptor) error {
	h.mu.Lock()
	if h.state != HostIdle && h.state != HostStopped {
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.state = HostAdvertising
	h.mu.Unlock()

	attrs, err := d.Attributes()
	if err != nil {
		return h.setupFailed("encode", err)
	}
	binding, err := h.ln.Bind(ctx, sdp.ServiceID)
	if err != nil {
		return h.setupFailed("bind", err)
	}
	advert, err := h.adv.Publish(ctx, sdp.ServiceID, attrs)
	if err != nil {
		_ = binding.Release()
		return h.setupFailed("publish", err)
	}

	acceptCtx, cancel := context.WithCancel(ctx)
	s := &hostSession{binding: binding, advert: advert, cancel: cancel}

	h.mu.Lock()
	if h.state != HostAdvertising {
		// Stop ran while we were setting up.
		h.mu.Unlock()
		s.release()
		return &AdvertiseError{Op: "start", Err: errHostStopped}
	}
	h.sess = s
	h.state = HostAwaitingConnection
	h.mu.Unlock()

	tlog.Info("host listening", "service", d.Name, "service_id", sdp.ServiceID)
	h.observer.OnStatus("listening for incoming connections")

	go h.acceptOne(acceptCtx, s)
	return nil
}

// Stop withdraws the advertisement, releases the listener, closes any open
// endpoint and returns the host to HostIdle. It is idempotent.
func (h *Host) Stop() {
	h.mu.Lock()
	s := h.sess
	h.sess = nil
	h.state = HostIdle
	var ep *Endpoint
	if s != nil {
		ep = s.ep
	}
	h.mu.Unlock()

	if s == nil {
		return
	}
	s.release()
	if ep != nil {
		_ = ep.Close()
	}
	tlog.Info("host stopped")
}

func (h *Host) State() HostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Endpoint returns the accepted connection, or nil.
func (h *Host) Endpoint() *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil {
		return nil
	}
	return h.sess.ep
}

func (h *Host) acceptOne(ctx context.Context, s *hostSession) {
	stream, err := s.binding.Accept(ctx)
	// One connection per session: stop accepting whatever the outcome.
	_ = s.binding.Release()

	h.mu.Lock()
	if h.sess != s {
		h.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return
	}
	if err != nil {
		h.sess = nil
		h.state = HostStopped
		h.mu.Unlock()
		s.release()
		tlog.Warn("host accept failed", "err", err)
		h.observer.OnError(&AdvertiseError{Op: "accept", Err: err})
		return
	}
	h.state = HostConnected
	h.mu.Unlock()

	tlog.Info("host accepted connection")
	h.observer.OnStatus("client connected")

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess != s {
		_ = stream.Close()
		return
	}
	// Open under the lock so Endpoint is set before the first message.
	s.ep = Open(stream, RoleHost, &hostObserver{h: h, s: s}, h.opts...)
}

// endSession tears s down after its endpoint ended on its own.
func (h *Host) endSession(s *hostSession) {
	h.mu.Lock()
	if h.sess != s {
		h.mu.Unlock()
		return
	}
	h.sess = nil
	h.state = HostIdle
	ep := s.ep
	h.mu.Unlock()

	s.release()
	if ep != nil {
		_ = ep.Close()
	}
}

func (h *Host) setupFailed(op string, err error) error {
	h.mu.Lock()
	if h.state == HostAdvertising {
		h.state = HostStopped
	}
	h.mu.Unlock()
	tlog.Warn("host setup failed", "op", op, "err", err)
	return &AdvertiseError{Op: op, Err: err}
}

func (s *hostSession) release() {
	s.cancel()
	if err := s.binding.Release(); err != nil {
		tlog.Debug("release binding", "err", err)
	}
	if err := s.advert.Unpublish(); err != nil {
		tlog.Warn("unpublish", "err", err)
	}
}

// hostObserver forwards endpoint events and ends the host session when the
// peer goes away.
type hostObserver struct {
	h *Host
	s *hostSession
}

func (o *hostObserver) OnMessage(text string) { o.h.observer.OnMessage(text) }

func (o *hostObserver) OnStatus(text string) { o.h.observer.OnStatus(text) }

func (o *hostObserver) OnClosed(reason CloseReason) {
	o.h.observer.OnClosed(reason)
	if reason == RemoteDisconnected {
		o.h.endSession(o.s)
		o.h.observer.OnStatus("client disconnected")
	}
}

func (o *hostObserver) OnError(err error) {
	o.h.observer.OnError(err)
	o.h.endSession(o.s)
}
