// Package history keeps a local transcript of chat sessions and remembers
// the last joined service.
package history

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"rfchat/internal/logging"
	"rfchat/internal/store"
	"rfchat/internal/transport"
)

var hlog = logging.For("history")

var (
	bucketTranscript = []byte("transcript")
	bucketMeta       = []byte("meta")
	keyLastService   = []byte("last_service")
)

// Log is the transcript of one device, backed by a store.Store.
type Log struct {
	st    store.Store
	limit int // 0 keeps everything
	now   func() time.Time
}

// New returns a Log over st that keeps at most limit entries.
func New(st store.Store, limit int) *Log {
	return &Log{st: st, limit: limit, now: time.Now}
}

// Append stores e, stamping Time if unset, and prunes the oldest entries
// past the limit. The returned entry carries its sequence number.
func (l *Log) Append(e Entry) (Entry, error) {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	seq, err := l.st.Append(bucketTranscript, e.marshal())
	if err != nil {
		return Entry{}, fmt.Errorf("appending transcript entry: %w", err)
	}
	e.Seq = seq
	if l.limit > 0 {
		if _, err := l.st.Prune(bucketTranscript, l.limit); err != nil {
			return e, fmt.Errorf("pruning transcript: %w", err)
		}
	}
	return e, nil
}

// Entries returns the last n entries in order, or all of them when n <= 0.
func (l *Log) Entries(n int) ([]Entry, error) {
	var out []Entry
	err := l.st.ForEach(bucketTranscript, func(k, v []byte) error {
		if len(k) != 8 {
			return fmt.Errorf("%w: key of %d bytes", errCorrupt, len(k))
		}
		e, err := unmarshalEntry(v)
		if err != nil {
			return err
		}
		e.Seq = binary.BigEndian.Uint64(k)
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Len reports how many entries are stored.
func (l *Log) Len() (int, error) {
	return l.st.Count(bucketTranscript)
}

// Clear drops the whole transcript.
func (l *Log) Clear() error {
	if err := l.st.Clear(bucketTranscript); err != nil {
		return fmt.Errorf("clearing transcript: %w", err)
	}
	return nil
}

// SetLastService remembers h for a later join without discovery.
func (l *Log) SetLastService(h transport.ServiceHandle) error {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, h.ID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, h.Kind)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, h.Name)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, h.DeviceAddress)
	if err := l.st.Set(bucketMeta, keyLastService, b); err != nil {
		return fmt.Errorf("saving last service: %w", err)
	}
	return nil
}

// ForgetLastService drops the handle saved by SetLastService.
func (l *Log) ForgetLastService() error {
	if err := l.st.Delete(bucketMeta, keyLastService); err != nil {
		return fmt.Errorf("forgetting last service: %w", err)
	}
	return nil
}

// LastService returns the handle saved by SetLastService. ok is false when
// none was saved.
func (l *Log) LastService() (h transport.ServiceHandle, ok bool, err error) {
	b, err := l.st.Get(bucketMeta, keyLastService)
	if err != nil {
		return h, false, fmt.Errorf("loading last service: %w", err)
	}
	if b == nil {
		return h, false, nil
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return h, false, fmt.Errorf("%w: %v", errCorrupt, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return h, false, fmt.Errorf("%w: %v", errCorrupt, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return h, false, fmt.Errorf("%w: %v", errCorrupt, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			h.ID = v
		case 2:
			h.Kind = v
		case 3:
			h.Name = v
		case 4:
			h.DeviceAddress = v
		}
	}
	if h.ID == "" {
		return transport.ServiceHandle{}, false, errors.New("saved service has no id")
	}
	return h, true, nil
}

// Recorder is a transport.Observer that writes every event into a Log.
// Failures to record are logged and never reach the chat.
type Recorder struct {
	log *Log

	mu   sync.Mutex
	peer string
}

func NewRecorder(l *Log) *Recorder {
	return &Recorder{log: l}
}

// SetPeer labels subsequent entries with the name of the other side.
func (r *Recorder) SetPeer(name string) {
	r.mu.Lock()
	r.peer = name
	r.mu.Unlock()
}

// Sent records a message this device delivered.
func (r *Recorder) Sent(text string) {
	r.record(Entry{Kind: KindSent, Text: text})
}

func (r *Recorder) OnMessage(text string) {
	r.record(Entry{Kind: KindReceived, Text: text})
}

func (r *Recorder) OnStatus(text string) {
	r.record(Entry{Kind: KindStatus, Text: text})
}

func (r *Recorder) OnError(err error) {
	r.record(Entry{Kind: KindError, Text: err.Error(), Code: transport.ErrorCode(err)})
}

func (r *Recorder) OnClosed(reason transport.CloseReason) {
	r.record(Entry{Kind: KindStatus, Text: "connection " + reason.String()})
}

func (r *Recorder) record(e Entry) {
	r.mu.Lock()
	e.Peer = r.peer
	r.mu.Unlock()
	if _, err := r.log.Append(e); err != nil {
		hlog.Warn("transcript write failed", "kind", e.Kind, "err", err)
	}
}
