package sdp

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ServiceID names the chat service type. Both roles share it.
var ServiceID = uuid.MustParse("72503AD7-9FE3-4EF9-8CCD-8B009F583C36")

const (
	// ServiceNameAttributeID is the SDP attribute id carrying the service name.
	ServiceNameAttributeID uint16 = 0x0100

	// ServiceNameAttributeType is the first byte of the service name attribute:
	// size descriptor in the low 3 bits, SDP type (text string) in the high 5 bits.
	ServiceNameAttributeType byte = (4 << 3) | 5

	// DefaultServiceName is the name advertised when none is configured.
	DefaultServiceName = "Bluetooth Rfcomm Chat Service"

	// MaxNameLength is the largest name whose length fits the single length byte.
	MaxNameLength = 255
)

var (
	ErrNameTooLong = errors.New("service name exceeds 255 bytes")
	ErrInvalidName = errors.New("service name is not valid UTF-8")

	ErrUnexpectedFormat = errors.New("unexpected service name attribute format")
	ErrTruncated        = errors.New("truncated service name attribute")
	ErrMissingAttribute = errors.New("service name attribute not advertised")
)

// ValidationError reports a service record from a candidate peer that does
// not match the chat protocol. Err is one of ErrUnexpectedFormat,
// ErrTruncated or ErrMissingAttribute.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Attributes maps SDP attribute ids to their raw encoded values.
type Attributes map[uint16][]byte

// Descriptor is the service metadata published by the listening side.
type Descriptor struct {
	Name string
}

// Encode produces [attributeType][len(name)][name bytes].
func (d Descriptor) Encode() ([]byte, error) {
	if !utf8.ValidString(d.Name) {
		return nil, ErrInvalidName
	}
	if len(d.Name) > MaxNameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(d.Name))
	}
	buf := make([]byte, 2+len(d.Name))
	buf[0] = ServiceNameAttributeType
	buf[1] = byte(len(d.Name))
	copy(buf[2:], d.Name)
	return buf, nil
}

// Attributes returns the SDP attribute set advertising d.
func (d Descriptor) Attributes() (Attributes, error) {
	raw, err := d.Encode()
	if err != nil {
		return nil, err
	}
	return Attributes{ServiceNameAttributeID: raw}, nil
}

// Decode parses a service name attribute. Bytes past the declared name
// length are ignored.
func Decode(b []byte) (Descriptor, error) {
	if len(b) < 1 {
		return Descriptor{}, &ValidationError{Err: ErrTruncated, Detail: "missing attribute type"}
	}
	if b[0] != ServiceNameAttributeType {
		return Descriptor{}, &ValidationError{
			Err:    ErrUnexpectedFormat,
			Detail: fmt.Sprintf("attribute type 0x%02X, want 0x%02X", b[0], ServiceNameAttributeType),
		}
	}
	if len(b) < 2 {
		return Descriptor{}, &ValidationError{Err: ErrTruncated, Detail: "missing name length"}
	}
	n := int(b[1])
	name := b[2:]
	if len(name) < n {
		return Descriptor{}, &ValidationError{
			Err:    ErrTruncated,
			Detail: fmt.Sprintf("name has %d of %d bytes", len(name), n),
		}
	}
	name = name[:n]
	if !utf8.Valid(name) {
		return Descriptor{}, &ValidationError{Err: ErrUnexpectedFormat, Detail: "name is not valid UTF-8"}
	}
	return Descriptor{Name: string(name)}, nil
}

// FromAttributes looks up the service name attribute and decodes it.
func FromAttributes(attrs Attributes) (Descriptor, error) {
	raw, ok := attrs[ServiceNameAttributeID]
	if !ok {
		return Descriptor{}, &ValidationError{
			Err:    ErrMissingAttribute,
			Detail: fmt.Sprintf("attribute id 0x%04X", ServiceNameAttributeID),
		}
	}
	return Decode(raw)
}
