package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize caps the payload of a single frame.
const MaxFrameSize = 16 << 20

const frameHeaderLen = 4

// WriteFrame writes a 4-byte little-endian length prefix followed by payload
// in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, frameHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderLen:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. It returns io.EOF only when r ends exactly at a
// frame boundary; a frame cut short fails with ErrDeserialization wrapping
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, shortFrame(err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrDeserialization, ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, shortFrame(err)
	}
	return buf, nil
}

func shortFrame(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrDeserialization, io.ErrUnexpectedEOF)
	}
	return err
}

// encodeAs down-casts v to T and CBOR-encodes it.
func encodeAs[T Message](v any) ([]byte, error) {
	msg, ok := v.(T)
	if !ok {
		got := fmt.Sprintf("%T", v)
		if m, ok := v.(Message); ok {
			got = m.TypeIdentity()
		}
		return nil, &TypeMismatchError{Expected: IdentityOf[T](), Got: got}
	}
	b, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if len(b) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrSerialization, ErrFrameTooLarge, len(b))
	}
	return b, nil
}

// decodeAs CBOR-decodes b into a T and lifts it back into an erased value.
func decodeAs[T Message](b []byte) (any, error) {
	var msg T
	if err := cbor.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	return msg, nil
}

// MarshalFrame encodes msg as a complete frame: length prefix plus CBOR.
func MarshalFrame[T Message](msg T) ([]byte, error) {
	payload, err := encodeAs[T](msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalFrame decodes one complete frame produced by MarshalFrame.
// Trailing bytes beyond the declared length are rejected.
func UnmarshalFrame[T Message](frame []byte) (T, error) {
	var zero T
	if len(frame) < frameHeaderLen {
		return zero, fmt.Errorf("%w: %w", ErrDeserialization, io.ErrUnexpectedEOF)
	}
	n := binary.LittleEndian.Uint32(frame)
	body := frame[frameHeaderLen:]
	switch {
	case uint64(len(body)) < uint64(n):
		return zero, fmt.Errorf("%w: %w", ErrDeserialization, io.ErrUnexpectedEOF)
	case uint64(len(body)) > uint64(n):
		return zero, fmt.Errorf("%w: %d trailing bytes", ErrDeserialization, uint64(len(body))-uint64(n))
	}
	v, err := decodeAs[T](body)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
