package transport

import (
	"context"
	"errors"
	"fmt"

	"rfchat/internal/sdp"
)

var (
	// ErrEndOfStream means the peer closed the stream, cleanly between frames
	// or in the middle of one. It is the remote-disconnect signal, not a fault.
	ErrEndOfStream = errors.New("end of stream")

	// ErrNotConnected is returned by Send once the connection is gone.
	ErrNotConnected = errors.New("not connected")

	// ErrMessageTooLarge is returned for frames above the configured limit
	// or the 32-bit length range.
	ErrMessageTooLarge = errors.New("message too large")

	ErrAlreadyStarted = errors.New("host already started")

	// ErrAccessDenied is returned by a Discoverer when the platform refuses
	// access to a discovered service.
	ErrAccessDenied = errors.New("access to the service was denied")

	// ErrServiceUnavailable means the discovered service is no longer advertised.
	ErrServiceUnavailable = errors.New("service no longer available")
)

// AdvertiseError reports a failed publish/listen setup. It is fatal to the
// host session that produced it.
type AdvertiseError struct {
	Op  string
	Err error
}

func (e *AdvertiseError) Error() string {
	return fmt.Sprintf("advertise %s: %v", e.Op, e.Err)
}

func (e *AdvertiseError) Unwrap() error { return e.Err }

// TransportError reports an I/O failure other than a clean closure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Error codes reported alongside error messages.
const (
	CodeUnknown            uint32 = 0x80040000
	CodeAdvertise          uint32 = 0x80040001
	CodeUnexpectedFormat   uint32 = 0x80040002
	CodeTruncated          uint32 = 0x80040003
	CodeMissingAttribute   uint32 = 0x80040004
	CodeTransport          uint32 = 0x80040005
	CodeNotConnected       uint32 = 0x80040006
	CodeMessageTooLarge    uint32 = 0x80040007
	CodeAccessDenied       uint32 = 0x80040008
	CodeServiceUnavailable uint32 = 0x80040009
	CodeCanceled           uint32 = 0x8004000A
)

// ErrorCode maps err to a stable numeric code for display next to its message.
func ErrorCode(err error) uint32 {
	var (
		adv *AdvertiseError
		te  *TransportError
	)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, sdp.ErrUnexpectedFormat):
		return CodeUnexpectedFormat
	case errors.Is(err, sdp.ErrTruncated):
		return CodeTruncated
	case errors.Is(err, sdp.ErrMissingAttribute):
		return CodeMissingAttribute
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrServiceUnavailable):
		return CodeServiceUnavailable
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	case errors.Is(err, ErrMessageTooLarge):
		return CodeMessageTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.As(err, &adv):
		return CodeAdvertise
	case errors.As(err, &te):
		return CodeTransport
	default:
		return CodeUnknown
	}
}
