package logger_test

import (
	"fmt"
	"testing"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, logger.SetLogLevel("debug"))
	require.NoError(t, logger.SetLogLevel("warn"))
	require.NoError(t, logger.SetLogLevel("warning"))

	err := logger.SetLogLevel("loud")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestErrorWithCodeAcceptsAnyError(t *testing.T) {
	log := logger.Nop()

	// Coded errors and plain errors both log without panicking.
	log.ErrorWithCode(errors.New().New(errors.ErrLinkFaulted)).Msg("coded")
	log.ErrorWithCode(fmt.Errorf("plain")).Msg("plain")
}
