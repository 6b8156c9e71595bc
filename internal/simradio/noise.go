package simradio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

const (
	maxNoiseMsg = 65535 // Noise transport message limit, tag included
	tagSize     = 16
	maxChunk    = maxNoiseMsg - tagSize
)

// noiseConn wraps a net.Conn with Noise transport encryption. Writes larger
// than one Noise message are split into chunks; the reader reassembles them
// transparently, so callers see a plain byte stream.
//
// Wire format per chunk: [2B ciphertext_len][ciphertext]
type noiseConn struct {
	net.Conn
	send    *noise.CipherState
	recv    *noise.CipherState
	readBuf []byte
	readMu  sync.Mutex
	writeMu sync.Mutex
}

// handshake runs a Noise NN handshake over conn: ephemeral keys only, so the
// link is encrypted but neither side is authenticated. The dialer initiates.
// Canceling ctx aborts a handshake in progress.
func handshake(ctx context.Context, conn net.Conn, initiator bool) (*noiseConn, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	nc, err := runHandshake(conn, initiator)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if !stop() {
		// ctx fired after the handshake finished; the deadline it set is stale.
		return nil, ctx.Err()
	}
	_ = conn.SetDeadline(time.Time{})
	return nc, nil
}

func runHandshake(conn net.Conn, initiator bool) (*noiseConn, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
	})
	if err != nil {
		return nil, fmt.Errorf("noise handshake config: %w", err)
	}

	var sendCS, recvCS *noise.CipherState
	if initiator {
		// -> e
		msg1, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("noise write msg1: %w", err)
		}
		if err := writeHandshakeMsg(conn, msg1); err != nil {
			return nil, err
		}

		// <- e, ee
		msg2, err := readHandshakeMsg(conn)
		if err != nil {
			return nil, err
		}
		_, cs1, cs2, err := hs.ReadMessage(nil, msg2)
		if err != nil {
			return nil, fmt.Errorf("noise read msg2: %w", err)
		}
		sendCS, recvCS = cs1, cs2
	} else {
		// -> e
		msg1, err := readHandshakeMsg(conn)
		if err != nil {
			return nil, err
		}
		if _, _, _, err = hs.ReadMessage(nil, msg1); err != nil {
			return nil, fmt.Errorf("noise read msg1: %w", err)
		}

		// <- e, ee
		msg2, cs1, cs2, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("noise write msg2: %w", err)
		}
		if err := writeHandshakeMsg(conn, msg2); err != nil {
			return nil, err
		}
		sendCS, recvCS = cs2, cs1
	}
	if sendCS == nil || recvCS == nil {
		return nil, fmt.Errorf("noise handshake incomplete")
	}

	return &noiseConn{Conn: conn, send: sendCS, recv: recvCS}, nil
}

// Write encrypts p as one or more transport messages, all in a single
// underlying Write so a concurrent close cannot split a chunk.
func (nc *noiseConn) Write(p []byte) (int, error) {
	nc.writeMu.Lock()
	defer nc.writeMu.Unlock()

	out := make([]byte, 0, len(p)+(len(p)/maxChunk+1)*(2+tagSize))
	for rest := p; ; {
		n := min(len(rest), maxChunk)
		chunk := rest[:n]
		rest = rest[n:]

		lenAt := len(out)
		out = append(out, 0, 0)
		var err error
		out, err = nc.send.Encrypt(out, nil, chunk)
		if err != nil {
			return 0, fmt.Errorf("noise encrypt: %w", err)
		}
		binary.BigEndian.PutUint16(out[lenAt:], uint16(len(out)-lenAt-2))

		if len(rest) == 0 {
			break
		}
	}

	if _, err := nc.Conn.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read returns decrypted bytes, buffering whatever of a chunk p cannot hold.
func (nc *noiseConn) Read(p []byte) (int, error) {
	nc.readMu.Lock()
	defer nc.readMu.Unlock()

	if len(nc.readBuf) > 0 {
		n := copy(p, nc.readBuf)
		nc.readBuf = nc.readBuf[n:]
		return n, nil
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(nc.Conn, lenBuf[:]); err != nil {
		return 0, err
	}
	msgLen := binary.BigEndian.Uint16(lenBuf[:])
	if msgLen < tagSize {
		return 0, fmt.Errorf("noise message too short: %d bytes", msgLen)
	}

	ciphertext := make([]byte, msgLen)
	if _, err := io.ReadFull(nc.Conn, ciphertext); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}

	plaintext, err := nc.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return 0, fmt.Errorf("noise decrypt: %w", err)
	}

	n := copy(p, plaintext)
	if n < len(plaintext) {
		nc.readBuf = plaintext[n:]
	}
	return n, nil
}

// Handshake message framing: [2B length][message]
func writeHandshakeMsg(w io.Writer, msg []byte) error {
	if len(msg) > maxNoiseMsg {
		return fmt.Errorf("handshake message too large: %d > %d", len(msg), maxNoiseMsg)
	}
	buf := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf, uint16(len(msg)))
	copy(buf[2:], msg)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("noise handshake write: %w", err)
	}
	return nil
}

func readHandshakeMsg(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("noise handshake read len: %w", err)
	}
	msg := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("noise handshake read msg: %w", err)
	}
	return msg, nil
}
