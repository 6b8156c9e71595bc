package simradio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rfchat/internal/logging"
	"rfchat/internal/sdp"
	"rfchat/internal/transport"
)

var rlog = logging.For("simradio")

// Kind is reported in every ServiceHandle this radio discovers.
const Kind = "Rfcomm"

// Protection is the link protection level a device requires.
type Protection string

const (
	// Encrypted links run a Noise handshake with ephemeral keys: encrypted,
	// not authenticated.
	Encrypted Protection = "encrypted"
	Plain     Protection = "plain"
)

// ParseProtection accepts "encrypted" or "plain".
func ParseProtection(s string) (Protection, error) {
	switch p := Protection(strings.ToLower(strings.TrimSpace(s))); p {
	case Encrypted, Plain:
		return p, nil
	default:
		return "", fmt.Errorf("unknown radio protection %q (want %q or %q)", s, Encrypted, Plain)
	}
}

// ErrProtectionMismatch is returned by Connect when the peer requires a
// different protection level than this radio.
var ErrProtectionMismatch = errors.New("link protection mismatch")

// Device identifies the local radio on the shared medium.
type Device struct {
	Address uuid.UUID
	Name    string
}

// record is one advertisement as stored on disk.
type record struct {
	Device     string         `json:"device"`
	DeviceName string         `json:"device_name"`
	ServiceID  string         `json:"service_id"`
	Socket     string         `json:"socket"`
	Protection Protection     `json:"protection"`
	Attributes sdp.Attributes `json:"attributes"`
	Published  time.Time      `json:"published"`
}

// Radio simulates an RFCOMM adapter on top of a directory shared by every
// participating process: advertisements are JSON records under adverts/,
// listeners are Unix sockets under sockets/.
type Radio struct {
	dir        string
	device     Device
	protection Protection
}

var _ transport.Radio = (*Radio)(nil)

// New prepares dir and returns a radio for device.
func New(dir string, device Device, protection Protection) (*Radio, error) {
	if dir == "" {
		return nil, errors.New("radio directory is required")
	}
	if device.Address == uuid.Nil {
		return nil, errors.New("device address is required")
	}
	if _, err := ParseProtection(string(protection)); err != nil {
		return nil, err
	}
	r := &Radio{dir: dir, device: device, protection: protection}
	for _, d := range []string{r.advertDir(), r.socketDir()} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("creating radio directory: %w", err)
		}
	}
	return r, nil
}

func (r *Radio) Device() Device { return r.device }

func (r *Radio) Protection() Protection { return r.protection }

func (r *Radio) advertDir() string { return filepath.Join(r.dir, "adverts") }

func (r *Radio) socketDir() string { return filepath.Join(r.dir, "sockets") }

func recordID(device, service uuid.UUID) string {
	return device.String() + "-" + service.String()
}

// socketPath keeps names short: Unix socket paths are limited to ~100 bytes.
func (r *Radio) socketPath(service uuid.UUID) string {
	name := fmt.Sprintf("%s-%s.sock", r.device.Address.String()[:8], service.String()[:8])
	return filepath.Join(r.socketDir(), name)
}

// Publish writes the advertisement record for serviceID. The record points
// at the socket Bind creates for the same service.
func (r *Radio) Publish(ctx context.Context, serviceID uuid.UUID, attrs sdp.Attributes) (transport.Advertisement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := record{
		Device:     r.device.Address.String(),
		DeviceName: r.device.Name,
		ServiceID:  serviceID.String(),
		Socket:     r.socketPath(serviceID),
		Protection: r.protection,
		Attributes: attrs,
		Published:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal advertisement: %w", err)
	}

	path := filepath.Join(r.advertDir(), recordID(r.device.Address, serviceID)+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("publish advertisement: %w", err)
	}
	rlog.Info("service published", "service_id", serviceID, "device", r.device.Name)
	return &advertisement{path: path}, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".advert-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type advertisement struct {
	path string
	once sync.Once
	err  error
}

func (a *advertisement) Unpublish() error {
	a.once.Do(func() {
		if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.err = fmt.Errorf("unpublish advertisement: %w", err)
			return
		}
		rlog.Info("service unpublished", "record", filepath.Base(a.path))
	})
	return a.err
}

// Bind listens on the service socket.
func (r *Radio) Bind(ctx context.Context, serviceID uuid.UUID) (transport.Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := r.socketPath(serviceID)
	// A socket file left behind by a crashed process would make Listen fail.
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	rlog.Debug("service bound", "service_id", serviceID, "socket", path)
	return &binding{radio: r, ln: ln, path: path}, nil
}

type binding struct {
	radio *Radio
	ln    net.Listener
	path  string
	once  sync.Once
}

func (b *binding) Accept(ctx context.Context) (transport.Stream, error) {
	stop := context.AfterFunc(ctx, func() { _ = b.ln.Close() })
	defer stop()

	conn, err := b.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return b.radio.secure(ctx, conn, false)
}

func (b *binding) Release() error {
	var err error
	b.once.Do(func() {
		err = b.ln.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		_ = os.Remove(b.path)
	})
	return err
}

// Find lists advertisements of serviceID by other devices. A radio directory
// nobody has advertised in yet yields no services.
func (r *Radio) Find(ctx context.Context, serviceID uuid.UUID) ([]transport.ServiceHandle, error) {
	entries, err := os.ReadDir(r.advertDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning advertisements: %w", err)
	}

	var handles []transport.ServiceHandle
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		rec, err := r.readRecord(id)
		if err != nil {
			rlog.Debug("skipping advertisement", "record", name, "err", err)
			continue
		}
		if rec.ServiceID != serviceID.String() || rec.Device == r.device.Address.String() {
			continue
		}
		handles = append(handles, transport.ServiceHandle{
			ID:            id,
			Kind:          Kind,
			Name:          rec.DeviceName,
			DeviceAddress: rec.Device,
		})
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID < handles[j].ID })
	rlog.Debug("scan finished", "service_id", serviceID, "found", len(handles))
	return handles, nil
}

// Attributes re-reads the advertisement behind h.
func (r *Radio) Attributes(ctx context.Context, h transport.ServiceHandle) (sdp.Attributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := r.readRecord(h.ID)
	if err != nil {
		return nil, err
	}
	return rec.Attributes, nil
}

// Connect dials the socket advertised for h.
func (r *Radio) Connect(ctx context.Context, h transport.ServiceHandle) (transport.Stream, error) {
	rec, err := r.readRecord(h.ID)
	if err != nil {
		return nil, err
	}
	if rec.Protection != r.protection {
		return nil, fmt.Errorf("%w: %s requires %s, local radio is %s",
			ErrProtectionMismatch, rec.DeviceName, rec.Protection, r.protection)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", rec.Socket)
	if err != nil {
		return nil, err
	}
	return r.secure(ctx, conn, true)
}

func (r *Radio) secure(ctx context.Context, conn net.Conn, initiator bool) (transport.Stream, error) {
	if r.protection == Plain {
		return conn, nil
	}
	nc, err := handshake(ctx, conn, initiator)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("securing link: %w", err)
	}
	return nc, nil
}

// readRecord maps a vanished record to ErrServiceUnavailable and an
// unreadable one to ErrAccessDenied.
func (r *Radio) readRecord(id string) (record, error) {
	if id == "" || filepath.Base(id) != id {
		return record{}, transport.ErrServiceUnavailable
	}
	data, err := os.ReadFile(filepath.Join(r.advertDir(), id+".json"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return record{}, transport.ErrServiceUnavailable
	case errors.Is(err, fs.ErrPermission):
		return record{}, fmt.Errorf("%w: %v", transport.ErrAccessDenied, err)
	case err != nil:
		return record{}, fmt.Errorf("reading advertisement: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("parsing advertisement %s: %w", id, err)
	}
	return rec, nil
}
