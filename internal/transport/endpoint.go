package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role says how an endpoint's stream was obtained.
type Role int

const (
	RoleHost Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "client"
}

// State is the lifecycle state of an Endpoint. Every state but StateOpen
// is terminal.
type State int

const (
	StateOpen State = iota
	StateClosedByPeer
	StateClosedLocally
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosedByPeer:
		return "closed by peer"
	case StateClosedLocally:
		return "closed locally"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Endpoint owns one connected stream. A dedicated goroutine reads frames and
// reports them to the observer; Send may be called from any goroutine.
type Endpoint struct {
	id       string
	role     Role
	stream   Stream
	observer Observer
	opts     options

	writeMu sync.Mutex // one frame in flight at a time

	mu           sync.Mutex
	state        State
	delivering   bool // OnMessage in progress
	closePending bool // Close ran during delivery; OnClosed follows it

	done chan struct{}
}

// Open takes ownership of stream and starts the receive loop.
func Open(stream Stream, role Role, observer Observer, opts ...Option) *Endpoint {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	e := &Endpoint{
		id:       uuid.New().String(),
		role:     role,
		stream:   stream,
		observer: observer,
		opts:     buildOptions(opts),
		state:    StateOpen,
		done:     make(chan struct{}),
	}
	tlog.Info("endpoint opened", "endpoint", shortID(e.id), "role", role)
	go e.recvLoop()
	return e
}

func (e *Endpoint) Role() Role { return e.role }

func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed when the receive loop has exited.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

// Send writes message as one frame. It returns ErrNotConnected once the
// endpoint has left StateOpen. A write failure moves the endpoint to
// StateFailed, stops the receive loop and is also reported to OnError.
func (e *Endpoint) Send(message string) error {
	if e.State() != StateOpen {
		return ErrNotConnected
	}
	if limit := e.opts.maxMessageSize; limit > 0 && len(message) > limit {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(message), limit)
	}
	buf, err := EncodeFrame(message)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.State() != StateOpen {
		return ErrNotConnected
	}
	if e.opts.writeTimeout > 0 {
		if d, ok := e.stream.(writeDeadliner); ok {
			if err := d.SetWriteDeadline(time.Now().Add(e.opts.writeTimeout)); err != nil {
				tlog.Debug("set write deadline", "endpoint", shortID(e.id), "err", err)
			}
		}
	}

	if _, err := e.stream.Write(buf); err != nil {
		if !e.transition(StateFailed) {
			// Close raced with the write and already released the stream.
			return ErrNotConnected
		}
		_ = e.stream.Close()
		terr := &TransportError{Op: "write", Err: err}
		tlog.Warn("endpoint failed", "endpoint", shortID(e.id), "role", e.role, "err", err)
		e.observer.OnError(terr)
		return terr
	}
	return nil
}

// Close releases the stream and reports OnClosed(ClosedLocally). It is safe
// to call more than once and from observer callbacks; only the first call
// has an effect. A pending read is unblocked and not reported as an error.
// When a message is being delivered, OnClosed runs after OnMessage returns,
// so no message is ever reported after the close.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.state != StateOpen {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosedLocally
	deferred := e.delivering
	e.closePending = deferred
	e.mu.Unlock()

	err := e.stream.Close()
	tlog.Info("endpoint closed", "endpoint", shortID(e.id), "role", e.role, "reason", ClosedLocally)
	if !deferred {
		e.observer.OnClosed(ClosedLocally)
	}
	return err
}

func (e *Endpoint) recvLoop() {
	defer close(e.done)
	for {
		msg, err := ReadFrame(e.stream, e.opts.maxMessageSize)
		if err != nil {
			e.endRecv(err)
			return
		}
		if !e.beginDelivery() {
			return
		}
		e.observer.OnMessage(msg)
		if e.endDelivery() {
			e.observer.OnClosed(ClosedLocally)
			return
		}
	}
}

// beginDelivery marks a message delivery in progress, or reports false if
// the endpoint is no longer open.
func (e *Endpoint) beginDelivery() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOpen {
		return false
	}
	e.delivering = true
	return true
}

// endDelivery reports whether Close ran during the delivery and left
// OnClosed to the receive loop.
func (e *Endpoint) endDelivery() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delivering = false
	pending := e.closePending
	e.closePending = false
	return pending
}

func (e *Endpoint) endRecv(err error) {
	byPeer := errors.Is(err, ErrEndOfStream)
	next := StateFailed
	if byPeer {
		next = StateClosedByPeer
	}
	if !e.transition(next) {
		// Closed locally or failed on send: the read error is our own doing.
		return
	}
	_ = e.stream.Close()

	if byPeer {
		tlog.Info("endpoint closed", "endpoint", shortID(e.id), "role", e.role, "reason", RemoteDisconnected)
		e.observer.OnClosed(RemoteDisconnected)
		return
	}
	tlog.Warn("endpoint failed", "endpoint", shortID(e.id), "role", e.role, "err", err)
	e.observer.OnError(&TransportError{Op: "read", Err: err})
}

// transition moves an open endpoint to next. It reports false when the
// endpoint had already left StateOpen.
func (e *Endpoint) transition(next State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOpen {
		return false
	}
	e.state = next
	return true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
