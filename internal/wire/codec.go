package wire

import (
	"encoding/binary"
	"io"
	"sync"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	lenPrefixSize = 4

	// DefaultMaxFrame bounds inbound frames; a corrupted length prefix
	// must not allocate unbounded memory on a small device.
	DefaultMaxFrame = 4 << 20
)

// Codec reads and writes frames over a duplex byte stream. Reads and writes
// are independently serialized so the stream stays full-duplex: one reader
// goroutine, any number of writers.
type Codec struct {
	rw       io.ReadWriter
	maxFrame int
	readMu   sync.Mutex
	writeMu  sync.Mutex
}

func NewCodec(rw io.ReadWriter, maxFrame int) *Codec {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}

	return &Codec{
		rw:       rw,
		maxFrame: maxFrame,
	}
}

// WriteFrame marshals and sends one length-prefixed frame.
func (c *Codec) WriteFrame(f Frame) error {
	errFactory := errors.New()

	raw, err := msgpack.Marshal(f)
	if err != nil {
		return errFactory.Wrap(ErrEncodeFailed, err)
	}

	if len(raw) > c.maxFrame {
		return errFactory.WithData(ErrFrameTooLarge, struct {
			Size int
			Max  int
		}{
			Size: len(raw),
			Max:  c.maxFrame,
		})
	}

	buf := make([]byte, lenPrefixSize+len(raw))
	binary.BigEndian.PutUint32(buf, uint32(len(raw)))
	copy(buf[lenPrefixSize:], raw)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.rw.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return errFactory.New(ErrShortWrite)
	}

	return nil
}

// WritePayload marshals payload into a frame of the given type and sends it.
func (c *Codec) WritePayload(t FrameType, payload any) error {
	f, err := NewFrame(t, payload)
	if err != nil {
		return err
	}

	return c.WriteFrame(f)
}

// ReadFrame blocks until one full frame arrives. Transport errors are
// returned as-is so callers can distinguish link loss from protocol faults.
func (c *Codec) ReadFrame() (Frame, error) {
	errFactory := errors.New()

	c.readMu.Lock()
	defer c.readMu.Unlock()

	var prefix [lenPrefixSize]byte
	if _, err := io.ReadFull(c.rw, prefix[:]); err != nil {
		return Frame{}, err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if int(size) > c.maxFrame {
		return Frame{}, errFactory.WithData(ErrFrameTooLarge, struct {
			Size uint32
			Max  int
		}{
			Size: size,
			Max:  c.maxFrame,
		})
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(c.rw, raw); err != nil {
		return Frame{}, err
	}

	var f Frame
	if err := msgpack.Unmarshal(raw, &f); err != nil {
		return Frame{}, errFactory.Wrap(ErrDecodeFailed, err)
	}

	return f, nil
}
