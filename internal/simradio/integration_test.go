package simradio_test

import (
	"testing"
	"time"

	"rfchat/internal/sdp"
	"rfchat/internal/simradio"
	"rfchat/internal/transport"
)

type events struct {
	messages chan string
	closed   chan transport.CloseReason
}

func newEvents() (*events, transport.Observer) {
	e := &events{
		messages: make(chan string, 16),
		closed:   make(chan transport.CloseReason, 4),
	}
	return e, transport.ObserverFuncs{
		Message: func(text string) { e.messages <- text },
		Closed:  func(r transport.CloseReason) { e.closed <- r },
	}
}

func wait[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestManagersChatOverEncryptedRadio(t *testing.T) {
	dir := t.TempDir()
	hostEv, hostObs := newEvents()
	peerEv, peerObs := newEvents()

	host := transport.NewManager(newRadio(t, dir, "Laptop", simradio.Encrypted), hostObs)
	peer := transport.NewManager(newRadio(t, dir, "Phone", simradio.Encrypted), peerObs)
	defer host.Disconnect()
	defer peer.Disconnect()

	if err := host.Host(testContext(t), sdp.Descriptor{Name: sdp.DefaultServiceName}); err != nil {
		t.Fatal(err)
	}
	handles, err := peer.Discover(testContext(t))
	if err != nil || len(handles) != 1 {
		t.Fatalf("Discover = %v, %v", handles, err)
	}
	d, err := peer.Join(testContext(t), handles[0])
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if d.Name != sdp.DefaultServiceName {
		t.Errorf("joined %q", d.Name)
	}

	if err := peer.Send("hello"); err != nil {
		t.Fatal(err)
	}
	if got := wait(t, hostEv.messages); got != "hello" {
		t.Errorf("host got %q", got)
	}
	if err := host.Send("hi"); err != nil {
		t.Fatal(err)
	}
	if got := wait(t, peerEv.messages); got != "hi" {
		t.Errorf("peer got %q", got)
	}

	host.Disconnect()
	if got := wait(t, peerEv.closed); got != transport.RemoteDisconnected {
		t.Errorf("peer close = %v", got)
	}
}
