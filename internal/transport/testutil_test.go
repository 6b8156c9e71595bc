package transport_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"rfchat/internal/sdp"
	"rfchat/internal/transport"
)

const waitTimeout = 2 * time.Second

var errRefused = errors.New("connection refused")

// memAir is an in-memory radio medium shared by every memRadio created from it.
type memAir struct {
	mu       sync.Mutex
	seq      int
	adverts  map[string]memAdvert
	bindings map[string]*memBinding // by device address

	publishErr error
	bindErr    error
	denied     bool
}

type memAdvert struct {
	handle transport.ServiceHandle
	attrs  sdp.Attributes
}

func newMemAir() *memAir {
	return &memAir{
		adverts:  make(map[string]memAdvert),
		bindings: make(map[string]*memBinding),
	}
}

func (a *memAir) radio(device, name string) *memRadio {
	return &memRadio{air: a, device: device, name: name}
}

// inject publishes a raw record without a listener behind it.
func (a *memAir) inject(device, name string, attrs sdp.Attributes) transport.ServiceHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	h := transport.ServiceHandle{
		ID:            fmt.Sprintf("%s#%d", device, a.seq),
		Kind:          "Rfcomm",
		Name:          name,
		DeviceAddress: device,
	}
	a.adverts[h.ID] = memAdvert{handle: h, attrs: attrs}
	return h
}

func (a *memAir) set(fn func(a *memAir)) {
	a.mu.Lock()
	fn(a)
	a.mu.Unlock()
}

func (a *memAir) bound(device string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.bindings[device]
	return ok
}

type memRadio struct {
	air    *memAir
	device string
	name   string
}

func (r *memRadio) Publish(_ context.Context, _ uuid.UUID, attrs sdp.Attributes) (transport.Advertisement, error) {
	r.air.mu.Lock()
	err := r.air.publishErr
	r.air.mu.Unlock()
	if err != nil {
		return nil, err
	}
	h := r.air.inject(r.device, r.name, attrs)
	return &memAdvertisement{air: r.air, id: h.ID}, nil
}

func (r *memRadio) Bind(_ context.Context, _ uuid.UUID) (transport.Binding, error) {
	r.air.mu.Lock()
	defer r.air.mu.Unlock()
	if r.air.bindErr != nil {
		return nil, r.air.bindErr
	}
	b := &memBinding{
		air:    r.air,
		device: r.device,
		conns:  make(chan net.Conn),
		done:   make(chan struct{}),
	}
	r.air.bindings[r.device] = b
	return b, nil
}

func (r *memRadio) Find(_ context.Context, _ uuid.UUID) ([]transport.ServiceHandle, error) {
	r.air.mu.Lock()
	defer r.air.mu.Unlock()
	var out []transport.ServiceHandle
	for _, ad := range r.air.adverts {
		if ad.handle.DeviceAddress == r.device {
			continue
		}
		out = append(out, ad.handle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRadio) Attributes(_ context.Context, h transport.ServiceHandle) (sdp.Attributes, error) {
	r.air.mu.Lock()
	defer r.air.mu.Unlock()
	if r.air.denied {
		return nil, transport.ErrAccessDenied
	}
	ad, ok := r.air.adverts[h.ID]
	if !ok {
		return nil, transport.ErrServiceUnavailable
	}
	return ad.attrs, nil
}

func (r *memRadio) Connect(ctx context.Context, h transport.ServiceHandle) (transport.Stream, error) {
	r.air.mu.Lock()
	b := r.air.bindings[h.DeviceAddress]
	r.air.mu.Unlock()
	if b == nil {
		return nil, errRefused
	}
	local, remote := net.Pipe()
	select {
	case b.conns <- remote:
		return local, nil
	case <-b.done:
	case <-ctx.Done():
	}
	_ = local.Close()
	_ = remote.Close()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, errRefused
}

type memAdvertisement struct {
	air *memAir
	id  string
}

func (a *memAdvertisement) Unpublish() error {
	a.air.mu.Lock()
	delete(a.air.adverts, a.id)
	a.air.mu.Unlock()
	return nil
}

type memBinding struct {
	air    *memAir
	device string
	conns  chan net.Conn
	done   chan struct{}
	once   sync.Once
}

func (b *memBinding) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case c := <-b.conns:
		return c, nil
	case <-b.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *memBinding) Release() error {
	b.once.Do(func() {
		close(b.done)
		b.air.mu.Lock()
		if b.air.bindings[b.device] == b {
			delete(b.air.bindings, b.device)
		}
		b.air.mu.Unlock()
	})
	return nil
}

// recorder is an Observer that queues every event.
type recorder struct {
	messages chan string
	closed   chan transport.CloseReason
	errs     chan error
	statuses chan string
}

func newRecorder() *recorder {
	return &recorder{
		messages: make(chan string, 256),
		closed:   make(chan transport.CloseReason, 16),
		errs:     make(chan error, 16),
		statuses: make(chan string, 256),
	}
}

func (r *recorder) OnMessage(text string) { r.messages <- text }

func (r *recorder) OnClosed(reason transport.CloseReason) { r.closed <- reason }

func (r *recorder) OnError(err error) { r.errs <- err }

func (r *recorder) OnStatus(text string) { r.statuses <- text }

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func expectNone[T any](t *testing.T, ch chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(50 * time.Millisecond):
	}
}

// waitStatus drains statuses until want shows up.
func (r *recorder) waitStatus(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-r.statuses:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
