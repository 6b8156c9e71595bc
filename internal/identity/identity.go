package identity

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Identity is the local device as other radios see it. The address is
// generated once and persisted so peers and transcripts keep recognizing
// this device across restarts.
type Identity struct {
	Address uuid.UUID
}

// Short is the first eight hex digits of the address, for display.
func (id *Identity) Short() string {
	return id.Address.String()[:8]
}

// Load reads the device address from dataDir/identity/device.id. If the file
// doesn't exist, a new address is generated and persisted.
func Load(dataDir string) (*Identity, error) {
	dir := filepath.Join(dataDir, "identity")
	path := filepath.Join(dir, "device.id")

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading device id: %w", err)
		}
		return generate(dir, path)
	}

	addr, err := uuid.ParseBytes(bytes.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("parsing device id %s: %w", path, err)
	}
	if addr == uuid.Nil {
		return nil, fmt.Errorf("device id %s is the nil UUID", path)
	}
	return &Identity{Address: addr}, nil
}

func generate(dir, path string) (*Identity, error) {
	addr, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating device id: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating identity dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(addr.String()+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("writing device id: %w", err)
	}
	return &Identity{Address: addr}, nil
}
