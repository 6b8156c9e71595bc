package transport

import (
	"context"
	"fmt"

	"rfchat/internal/sdp"
)

// Client is the connecting role. Every failure is terminal for the attempt
// that produced it; retrying is left to the caller.
type Client struct {
	disc     Discoverer
	dialer   Dialer
	observer Observer
	opts     []Option
}

func NewClient(disc Discoverer, dialer Dialer, observer Observer, opts ...Option) *Client {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	return &Client{
		disc:     disc,
		dialer:   dialer,
		observer: observer,
		opts:     opts,
	}
}

// Discover lists peers currently advertising the chat service. An empty
// list is not an error: nobody is visible yet.
func (c *Client) Discover(ctx context.Context) ([]ServiceHandle, error) {
	handles, err := c.disc.Find(ctx, sdp.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("discovering services: %w", err)
	}
	tlog.Info("discovery finished", "services", len(handles))
	return handles, nil
}

// Connect reads and validates h's service record, dials it and wraps the
// stream in an Endpoint. A record that is not a chat service advertisement
// fails with *sdp.ValidationError before any connection is attempted.
func (c *Client) Connect(ctx context.Context, h ServiceHandle) (*Endpoint, sdp.Descriptor, error) {
	attrs, err := c.disc.Attributes(ctx, h)
	if err != nil {
		return nil, sdp.Descriptor{}, fmt.Errorf("reading service record of %s: %w", h.Name, err)
	}
	d, err := sdp.FromAttributes(attrs)
	if err != nil {
		tlog.Info("rejected service record", "service", h.ID, "err", err)
		return nil, sdp.Descriptor{}, err
	}

	stream, err := c.dialer.Connect(ctx, h)
	if err != nil {
		tlog.Warn("dial failed", "service", h.ID, "err", err)
		return nil, sdp.Descriptor{}, &TransportError{Op: "dial", Err: err}
	}

	tlog.Info("connected to service", "service", h.ID, "name", d.Name)
	return Open(stream, RoleClient, c.observer, c.opts...), d, nil
}
