// Package sample defines the atomic unit of monitored information flowing
// through the capture-to-uplink pipeline.
package sample

import (
	"time"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// PayloadKind tags the type of the opaque payload blob.
type PayloadKind uint8

const (
	KindNumeric PayloadKind = iota + 1
	KindBool
	KindString
	KindBinary
)

func (k PayloadKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Sample is one observed data point. Seq is assigned at capture time,
// monotonically increasing per source, never reused. Samples are immutable
// once created.
type Sample struct {
	SourceID  string      `msgpack:"src"`
	Seq       uint64      `msgpack:"seq"`
	Timestamp time.Time   `msgpack:"ts"`
	Kind      PayloadKind `msgpack:"kind"`
	Payload   []byte      `msgpack:"p"`
}

func NewNumeric(sourceID string, seq uint64, at time.Time, value float64) (Sample, error) {
	return newSample(sourceID, seq, at, KindNumeric, value)
}

func NewBool(sourceID string, seq uint64, at time.Time, value bool) (Sample, error) {
	return newSample(sourceID, seq, at, KindBool, value)
}

func NewString(sourceID string, seq uint64, at time.Time, value string) (Sample, error) {
	return newSample(sourceID, seq, at, KindString, value)
}

// NewBinary stores the blob as-is, without a codec pass.
func NewBinary(sourceID string, seq uint64, at time.Time, value []byte) Sample {
	return Sample{
		SourceID:  sourceID,
		Seq:       seq,
		Timestamp: at,
		Kind:      KindBinary,
		Payload:   value,
	}
}

func newSample(sourceID string, seq uint64, at time.Time, kind PayloadKind, value any) (Sample, error) {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return Sample{}, errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	return Sample{
		SourceID:  sourceID,
		Seq:       seq,
		Timestamp: at,
		Kind:      kind,
		Payload:   payload,
	}, nil
}

// Numeric decodes the payload of a KindNumeric sample.
func (s Sample) Numeric() (float64, error) {
	if s.Kind != KindNumeric {
		return 0, kindMismatch(KindNumeric, s.Kind)
	}

	var v float64
	if err := msgpack.Unmarshal(s.Payload, &v); err != nil {
		return 0, errors.New().Wrap(errors.ErrInternal, err)
	}

	return v, nil
}

// Bool decodes the payload of a KindBool sample.
func (s Sample) Bool() (bool, error) {
	if s.Kind != KindBool {
		return false, kindMismatch(KindBool, s.Kind)
	}

	var v bool
	if err := msgpack.Unmarshal(s.Payload, &v); err != nil {
		return false, errors.New().Wrap(errors.ErrInternal, err)
	}

	return v, nil
}

// Text decodes the payload of a KindString sample.
func (s Sample) Text() (string, error) {
	if s.Kind != KindString {
		return "", kindMismatch(KindString, s.Kind)
	}

	var v string
	if err := msgpack.Unmarshal(s.Payload, &v); err != nil {
		return "", errors.New().Wrap(errors.ErrInternal, err)
	}

	return v, nil
}

func kindMismatch(want, got PayloadKind) error {
	return errors.New().WithData(errors.ErrInvalidArgument, struct {
		Want string
		Got  string
	}{
		Want: want.String(),
		Got:  got.String(),
	})
}
