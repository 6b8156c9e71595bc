package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	HeaderSize = 4       // uint32 payload length, little-endian
	MaxPayload = 1 << 20 // default receive/send limit, 1 MB
)

// EncodeFrame returns [4B length][UTF-8 payload]. The length is the byte
// count of the payload, not its character count.
func EncodeFrame(message string) ([]byte, error) {
	if uint64(len(message)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(message))
	}
	buf := make([]byte, HeaderSize+len(message))
	binary.LittleEndian.PutUint32(buf[:HeaderSize], uint32(len(message)))
	copy(buf[HeaderSize:], message)
	return buf, nil
}

// WriteFrame writes one frame in a single Write call.
func WriteFrame(w io.Writer, message string) error {
	buf, err := EncodeFrame(message)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame from r. maxSize bounds the accepted
// payload length; zero or negative accepts the whole 32-bit range.
//
// A stream that ends before the header or the payload is complete yields
// ErrEndOfStream, whether it ended between frames or inside one.
func ReadFrame(r io.Reader, maxSize int) (string, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", streamErr(err)
	}

	length := binary.LittleEndian.Uint32(hdr[:])
	if maxSize > 0 && uint64(length) > uint64(maxSize) {
		return "", fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", streamErr(err)
	}
	return strings.ToValidUTF8(string(payload), "\uFFFD"), nil
}

func streamErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrEndOfStream
	}
	return err
}
