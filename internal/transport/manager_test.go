package transport_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"rfchat/internal/sdp"
	"rfchat/internal/transport"
)

func newTestManager(air *memAir, device string) (*transport.Manager, *recorder) {
	rec := newRecorder()
	return transport.NewManager(air.radio(device, device), rec), rec
}

// connectManagers makes a host and b join it.
func connectManagers(t *testing.T, air *memAir) (a, b *transport.Manager, arec, brec *recorder) {
	t.Helper()
	a, arec = newTestManager(air, "dev-a")
	b, brec = newTestManager(air, "dev-b")
	t.Cleanup(a.Disconnect)
	t.Cleanup(b.Disconnect)

	if err := a.Host(testContext(t), sdp.Descriptor{Name: "A's chat"}); err != nil {
		t.Fatal(err)
	}
	handles, err := b.Discover(testContext(t))
	if err != nil || len(handles) != 1 {
		t.Fatalf("Discover = %v, %v", handles, err)
	}
	d, err := b.Join(testContext(t), handles[0])
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if d.Name != "A's chat" {
		t.Errorf("joined %q", d.Name)
	}
	arec.waitStatus(t, "client connected")
	eventually(t, "host endpoint", func() bool { return a.Endpoint() != nil })
	return a, b, arec, brec
}

func TestManagerSendWithoutConnection(t *testing.T) {
	m, rec := newTestManager(newMemAir(), "dev-a")
	if err := m.Send("hello"); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
	rec.waitStatus(t, "no clients connected, please wait for a client to connect before attempting to send a message")
}

func TestManagerDiscoverEmptyReportsStatus(t *testing.T) {
	m, rec := newTestManager(newMemAir(), "dev-a")
	handles, err := m.Discover(testContext(t))
	if err != nil || len(handles) != 0 {
		t.Fatalf("Discover = %v, %v", handles, err)
	}
	rec.waitStatus(t, "no chat services were found; make sure a peer is advertising the chat service")
}

func TestManagerExchange(t *testing.T) {
	air := newMemAir()
	a, b, arec, brec := connectManagers(t, air)

	if err := b.Send("ping"); err != nil {
		t.Fatal(err)
	}
	if got := waitFor(t, arec.messages, "host message"); got != "ping" {
		t.Errorf("host got %q", got)
	}
	if err := a.Send("pong"); err != nil {
		t.Fatal(err)
	}
	if got := waitFor(t, brec.messages, "client message"); got != "pong" {
		t.Errorf("client got %q", got)
	}
}

func TestManagerJoinStopsHosting(t *testing.T) {
	air := newMemAir()
	a, _ := newTestManager(air, "dev-a")
	b, _ := newTestManager(air, "dev-b")
	defer a.Disconnect()
	defer b.Disconnect()

	if err := a.Host(testContext(t), sdp.Descriptor{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Host(testContext(t), sdp.Descriptor{Name: "b"}); err != nil {
		t.Fatal(err)
	}

	handles, err := b.Discover(testContext(t))
	if err != nil || len(handles) != 1 || handles[0].DeviceAddress != "dev-a" {
		t.Fatalf("b sees %v, %v; want only dev-a", handles, err)
	}
	if _, err := b.Join(testContext(t), handles[0]); err != nil {
		t.Fatal(err)
	}
	if b.HostState() != transport.HostIdle {
		t.Errorf("b host state = %v, want idle after joining", b.HostState())
	}
	if air.bound("dev-b") {
		t.Error("b still listening after joining")
	}
	seen, _ := a.Discover(testContext(t))
	if len(seen) != 0 {
		t.Errorf("b still advertised: %v", seen)
	}
}

func TestManagerHostClosesClientConnection(t *testing.T) {
	air := newMemAir()
	_, b, arec, brec := connectManagers(t, air)

	if err := b.Host(testContext(t), sdp.Descriptor{Name: "b"}); err != nil {
		t.Fatal(err)
	}
	if got := waitFor(t, brec.closed, "client close"); got != transport.ClosedLocally {
		t.Errorf("b close = %v", got)
	}
	if got := waitFor(t, arec.closed, "host close"); got != transport.RemoteDisconnected {
		t.Errorf("a close = %v", got)
	}
	if b.Endpoint() != nil {
		t.Error("b kept its client endpoint after switching to host")
	}
	if b.HostState() != transport.HostAwaitingConnection {
		t.Errorf("b host state = %v", b.HostState())
	}
}

func TestManagerDisconnect(t *testing.T) {
	air := newMemAir()
	_, b, arec, brec := connectManagers(t, air)

	b.Disconnect()
	brec.waitStatus(t, "disconnected")
	if got := waitFor(t, arec.closed, "host close"); got != transport.RemoteDisconnected {
		t.Errorf("a close = %v", got)
	}
	if b.Endpoint() != nil {
		t.Error("endpoint survived Disconnect")
	}
	if err := b.Send("x"); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Send = %v", err)
	}

	b.Disconnect()
	if got := waitFor(t, brec.closed, "close"); got != transport.ClosedLocally {
		t.Errorf("b close = %v", got)
	}
	expectNone(t, brec.closed, "second close")
}

func TestManagerHostLeavingNotifiesClient(t *testing.T) {
	air := newMemAir()
	a, _, _, brec := connectManagers(t, air)

	a.Disconnect()
	if got := waitFor(t, brec.closed, "client close"); got != transport.RemoteDisconnected {
		t.Errorf("b close = %v", got)
	}
	brec.waitStatus(t, "host disconnected")
}

func TestManagerHostFailureReported(t *testing.T) {
	air := newMemAir()
	boom := errors.New("adapter off")
	air.set(func(a *memAir) { a.publishErr = boom })
	m, rec := newTestManager(air, "dev-a")

	err := m.Host(testContext(t), sdp.Descriptor{Name: "a"})
	if !errors.Is(err, boom) {
		t.Fatalf("Host = %v", err)
	}
	if got := waitFor(t, rec.errs, "error"); !errors.Is(got, boom) {
		t.Errorf("OnError = %v", got)
	}
}

func TestManagerJoinFailureReported(t *testing.T) {
	air := newMemAir()
	h := air.inject("dev-x", "X", sdp.Attributes{})
	m, rec := newTestManager(air, "dev-a")

	if _, err := m.Join(testContext(t), h); !errors.Is(err, sdp.ErrMissingAttribute) {
		t.Fatalf("Join = %v", err)
	}
	rec.waitStatus(t, "connecting to X")
	if got := waitFor(t, rec.errs, "error"); transport.ErrorCode(got) != transport.CodeMissingAttribute {
		t.Errorf("code = %#x for %v", transport.ErrorCode(got), got)
	}
	if m.Endpoint() != nil {
		t.Error("endpoint set after failed join")
	}
}

func TestManagerJoinCanceled(t *testing.T) {
	air := newMemAir()
	m, rec := newTestManager(air, "dev-a")
	attrs, _ := sdp.Descriptor{Name: "slow"}.Attributes()
	h := air.inject("dev-x", "X", attrs)

	// A binding nobody accepts on keeps Connect blocked until canceled.
	binding, err := air.radio("dev-x", "X").Bind(context.Background(), sdp.ServiceID)
	if err != nil {
		t.Fatal(err)
	}
	defer binding.Release()

	errc := make(chan error, 1)
	go func() {
		_, err := m.Join(context.Background(), h)
		errc <- err
	}()
	rec.waitStatus(t, "connecting to X")
	m.Disconnect()

	err = waitFor(t, errc, "join result")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Join = %v, want canceled", err)
	}
	if transport.ErrorCode(err) != transport.CodeCanceled {
		t.Errorf("code = %#x", transport.ErrorCode(err))
	}
	if m.Endpoint() != nil {
		t.Error("endpoint set by canceled join")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want uint32
	}{
		{nil, 0},
		{errors.New("other"), transport.CodeUnknown},
		{&transport.AdvertiseError{Op: "bind", Err: errors.New("x")}, transport.CodeAdvertise},
		{&transport.TransportError{Op: "read", Err: errors.New("x")}, transport.CodeTransport},
		{&transport.TransportError{Op: "read", Err: transport.ErrMessageTooLarge}, transport.CodeMessageTooLarge},
		{&sdp.ValidationError{Err: sdp.ErrUnexpectedFormat}, transport.CodeUnexpectedFormat},
		{&sdp.ValidationError{Err: sdp.ErrTruncated}, transport.CodeTruncated},
		{&sdp.ValidationError{Err: sdp.ErrMissingAttribute}, transport.CodeMissingAttribute},
		{fmt.Errorf("reading: %w", transport.ErrAccessDenied), transport.CodeAccessDenied},
		{transport.ErrServiceUnavailable, transport.CodeServiceUnavailable},
		{transport.ErrNotConnected, transport.CodeNotConnected},
		{context.DeadlineExceeded, transport.CodeCanceled},
	}
	for _, tt := range tests {
		if got := transport.ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %#x, want %#x", tt.err, got, tt.want)
		}
	}
}
