// Package wire defines the framed message protocol spoken over the uplink:
// a 4-byte big-endian length prefix followed by a msgpack envelope. Batch
// payloads are s2-compressed since the link is low-bandwidth.
package wire

import (
	"time"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/sample"
	"github.com/klauspost/compress/s2"
	"github.com/vmihailenco/msgpack/v5"
)

// ProtoVersion is negotiated in the handshake.
const ProtoVersion uint8 = 1

type FrameType uint8

const (
	FrameHello FrameType = iota + 1
	FrameHelloAck
	FrameBatch
	FrameAck
	FrameCommand
	FrameCommandResult
	FrameHeartbeat
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameHelloAck:
		return "hello_ack"
	case FrameBatch:
		return "batch"
	case FrameAck:
		return "ack"
	case FrameCommand:
		return "command"
	case FrameCommandResult:
		return "command_result"
	case FrameHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Frame is the envelope carried inside each length-prefixed record.
type Frame struct {
	Type    FrameType `msgpack:"t"`
	Payload []byte    `msgpack:"p"`
}

// Hello opens a session. InstanceID distinguishes restarts of the same
// station.
type Hello struct {
	StationID  string `msgpack:"station"`
	InstanceID string `msgpack:"instance"`
	Proto      uint8  `msgpack:"proto"`
}

// HelloAck completes the handshake.
type HelloAck struct {
	Proto uint8 `msgpack:"proto"`
}

// Batch carries one or more serialized samples. Samples holds an
// s2-compressed msgpack array; use EncodeBatch/DecodeBatch.
type Batch struct {
	BatchID uint64 `msgpack:"id"`
	Count   int    `msgpack:"n"`
	Samples []byte `msgpack:"samples"`
}

// Ack is the collector's cumulative receipt: all samples for SourceID with
// seq <= UpToSeq are durably received.
type Ack struct {
	SourceID string `msgpack:"src"`
	UpToSeq  uint64 `msgpack:"up_to"`
}

// Command is sent by the collector. CommandID deduplicates redelivery.
type Command struct {
	CommandID string         `msgpack:"id"`
	Name      string         `msgpack:"name"`
	Args      map[string]any `msgpack:"args"`
}

// CommandResult reports command execution back to the collector.
type CommandResult struct {
	CommandID string `msgpack:"id"`
	OK        bool   `msgpack:"ok"`
	Detail    string `msgpack:"detail,omitempty"`
}

// Heartbeat keeps an idle session warm.
type Heartbeat struct {
	SentAt int64 `msgpack:"at"`
}

// NewHeartbeat stamps a heartbeat with the current time.
func NewHeartbeat() Heartbeat {
	return Heartbeat{SentAt: time.Now().UnixMilli()}
}

// EncodeBatch packs samples into a batch frame payload.
func EncodeBatch(batchID uint64, samples []sample.Sample) (Batch, error) {
	raw, err := msgpack.Marshal(samples)
	if err != nil {
		return Batch{}, errors.New().Wrap(ErrEncodeFailed, err)
	}

	return Batch{
		BatchID: batchID,
		Count:   len(samples),
		Samples: s2.Encode(nil, raw),
	}, nil
}

// DecodeBatch unpacks the samples carried by a batch frame.
func DecodeBatch(b Batch) ([]sample.Sample, error) {
	errFactory := errors.New()

	raw, err := s2.Decode(nil, b.Samples)
	if err != nil {
		return nil, errFactory.Wrap(ErrDecodeFailed, err)
	}

	var samples []sample.Sample
	if err := msgpack.Unmarshal(raw, &samples); err != nil {
		return nil, errFactory.Wrap(ErrDecodeFailed, err)
	}

	return samples, nil
}

// NewFrame marshals a payload struct into its envelope.
func NewFrame(t FrameType, payload any) (Frame, error) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return Frame{}, errors.New().Wrap(ErrEncodeFailed, err)
	}

	return Frame{Type: t, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into out.
func (f Frame) Decode(out any) error {
	if err := msgpack.Unmarshal(f.Payload, out); err != nil {
		return errors.New().Wrap(ErrDecodeFailed, err)
	}

	return nil
}
