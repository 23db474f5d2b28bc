package sample_test

import (
	"testing"
	"time"

	"codeberg.org/halvard/fieldlink/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericSample(t *testing.T) {
	now := time.Now()

	s, err := sample.NewNumeric("temp-1", 3, now, -12.25)
	require.NoError(t, err)

	assert.Equal(t, "temp-1", s.SourceID)
	assert.Equal(t, uint64(3), s.Seq)
	assert.Equal(t, sample.KindNumeric, s.Kind)

	v, err := s.Numeric()
	require.NoError(t, err)
	assert.InDelta(t, -12.25, v, 1e-9)
}

func TestKindMismatchRejected(t *testing.T) {
	s, err := sample.NewBool("door-1", 1, time.Now(), true)
	require.NoError(t, err)

	_, err = s.Numeric()
	require.Error(t, err)

	_, err = s.Text()
	require.Error(t, err)

	v, err := s.Bool()
	require.NoError(t, err)
	assert.True(t, v)
}

func TestStringSample(t *testing.T) {
	s, err := sample.NewString("status-1", 8, time.Now(), "nominal")
	require.NoError(t, err)

	v, err := s.Text()
	require.NoError(t, err)
	assert.Equal(t, "nominal", v)
}

func TestBinaryPayloadStoredVerbatim(t *testing.T) {
	blob := []byte{0xde, 0xad, 0xbe, 0xef}

	s := sample.NewBinary("cam-1", 2, time.Now(), blob)

	assert.Equal(t, sample.KindBinary, s.Kind)
	assert.Equal(t, blob, s.Payload)
}

func TestKindNames(t *testing.T) {
	assert.Equal(t, "numeric", sample.KindNumeric.String())
	assert.Equal(t, "bool", sample.KindBool.String())
	assert.Equal(t, "string", sample.KindString.String())
	assert.Equal(t, "binary", sample.KindBinary.String())
	assert.Equal(t, "unknown", sample.PayloadKind(0).String())
}
