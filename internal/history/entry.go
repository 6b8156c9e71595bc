package history

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind classifies a transcript line.
type Kind int

const (
	KindSent Kind = iota + 1
	KindReceived
	KindStatus
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSent:
		return "sent"
	case KindReceived:
		return "received"
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one line of the conversation transcript.
type Entry struct {
	Seq  uint64 // assigned by Append
	Time time.Time
	Kind Kind
	Peer string // service or device the line belongs to, if any
	Text string
	Code uint32 // error code for KindError
}

// Field numbers of the wire encoding. Never reuse a retired number.
const (
	fieldTime protowire.Number = 1 // unix nanoseconds
	fieldKind protowire.Number = 2
	fieldPeer protowire.Number = 3
	fieldText protowire.Number = 4
	fieldCode protowire.Number = 5
)

var errCorrupt = errors.New("corrupt transcript entry")

// marshal encodes e in protobuf wire format. Seq is the storage key and is
// not part of the value.
func (e Entry) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Time.UnixNano()))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	if e.Peer != "" {
		b = protowire.AppendTag(b, fieldPeer, protowire.BytesType)
		b = protowire.AppendString(b, e.Peer)
	}
	b = protowire.AppendTag(b, fieldText, protowire.BytesType)
	b = protowire.AppendString(b, e.Text)
	if e.Code != 0 {
		b = protowire.AppendTag(b, fieldCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Code))
	}
	return b
}

// unmarshalEntry decodes b, skipping fields it does not know.
func unmarshalEntry(b []byte) (Entry, error) {
	var e Entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Entry{}, fmt.Errorf("%w: %v", errCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Entry{}, fmt.Errorf("%w: time: %v", errCorrupt, protowire.ParseError(n))
			}
			e.Time = time.Unix(0, int64(v))
			b = b[n:]
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Entry{}, fmt.Errorf("%w: kind: %v", errCorrupt, protowire.ParseError(n))
			}
			e.Kind = Kind(v)
			b = b[n:]
		case num == fieldPeer && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Entry{}, fmt.Errorf("%w: peer: %v", errCorrupt, protowire.ParseError(n))
			}
			e.Peer = v
			b = b[n:]
		case num == fieldText && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Entry{}, fmt.Errorf("%w: text: %v", errCorrupt, protowire.ParseError(n))
			}
			e.Text = v
			b = b[n:]
		case num == fieldCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Entry{}, fmt.Errorf("%w: code: %v", errCorrupt, protowire.ParseError(n))
			}
			e.Code = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Entry{}, fmt.Errorf("%w: field %d: %v", errCorrupt, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}
