package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the big-endian length prefix.
const HeaderLen = 4

var (
	ErrIncompleteFrame = errors.New("frame: incomplete frame")
	ErrFrameTooLarge   = errors.New("frame: frame too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxPayloadBytes == 0 {
		return DefaultLimits()
	}
	return l
}

// Encode returns payload prefixed with its length.
func Encode(payload []byte, limits Limits) ([]byte, error) {
	limits = limits.withDefaults()
	if uint64(len(payload)) > uint64(limits.MaxPayloadBytes) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), limits.MaxPayloadBytes)
	}
	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderLen], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// WriteFrame writes one frame in a single Write call.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	buf, err := Encode(payload, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame. The declared length is checked against
// limits before the body buffer is allocated.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	limits = limits.withDefaults()

	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, incomplete("length prefix", err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: declared %d > %d", ErrFrameTooLarge, n, limits.MaxPayloadBytes)
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, incomplete("payload", err)
		}
	}
	return payload, nil
}

func incomplete(part string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrIncompleteFrame, part)
	}
	return err
}
