package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"rfchat/internal/sdp"
)

// Stream is a connected, ordered, duplex byte channel. Closing it must
// unblock pending reads and writes.
type Stream interface {
	io.ReadWriteCloser
}

// writeDeadliner is implemented by streams that support write timeouts.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Advertiser publishes service records.
type Advertiser interface {
	Publish(ctx context.Context, serviceID uuid.UUID, attrs sdp.Attributes) (Advertisement, error)
}

// Advertisement is a published service record.
type Advertisement interface {
	Unpublish() error
}

// Listener binds a service id so peers can connect to it.
type Listener interface {
	Bind(ctx context.Context, serviceID uuid.UUID) (Binding, error)
}

// Binding accepts inbound connections for a bound service id.
type Binding interface {
	// Accept blocks until a peer connects or ctx is done.
	Accept(ctx context.Context) (Stream, error)
	// Release stops listening and unblocks Accept. Repeated calls are no-ops.
	Release() error
}

// Discoverer finds advertised services and reads their records.
type Discoverer interface {
	Find(ctx context.Context, serviceID uuid.UUID) ([]ServiceHandle, error)
	Attributes(ctx context.Context, h ServiceHandle) (sdp.Attributes, error)
}

// Dialer opens a stream to a discovered service.
type Dialer interface {
	Connect(ctx context.Context, h ServiceHandle) (Stream, error)
}

// Radio bundles every capability a platform layer provides.
type Radio interface {
	Advertiser
	Listener
	Discoverer
	Dialer
}

// ServiceHandle identifies one discovered service instance.
type ServiceHandle struct {
	ID            string
	Kind          string
	Name          string // advertising device name
	DeviceAddress string
}

func (h ServiceHandle) String() string {
	return fmt.Sprintf("%s: %s : %s", h.Kind, h.Name, h.ID)
}
