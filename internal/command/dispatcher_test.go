package command_test

import (
	"context"
	"fmt"
	"testing"

	"codeberg.org/halvard/fieldlink/internal/command"
	"codeberg.org/halvard/fieldlink/internal/logger"
	"codeberg.org/halvard/fieldlink/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateCommandExecutesOnce(t *testing.T) {
	d := command.NewDispatcher(0, logger.Nop())

	calls := 0
	require.NoError(t, d.Register(command.HandlerFunc("ping", func(context.Context, map[string]any) error {
		calls++

		return nil
	})))

	cmd := wire.Command{CommandID: "c-1", Name: "ping"}

	first := d.Dispatch(context.Background(), cmd)
	second := d.Dispatch(context.Background(), cmd)

	assert.Equal(t, 1, calls)
	assert.True(t, first.OK)
	assert.Equal(t, first, second, "redelivery must re-report the original result")
}

func TestDuplicateOfFailedCommandReportsFailure(t *testing.T) {
	d := command.NewDispatcher(0, logger.Nop())

	calls := 0
	require.NoError(t, d.Register(command.HandlerFunc("calibrate", func(context.Context, map[string]any) error {
		calls++

		return fmt.Errorf("sensor busy")
	})))

	cmd := wire.Command{CommandID: "c-7", Name: "calibrate"}

	first := d.Dispatch(context.Background(), cmd)
	second := d.Dispatch(context.Background(), cmd)

	assert.Equal(t, 1, calls)
	assert.False(t, first.OK)
	assert.False(t, second.OK, "a failed command must not be reported as success on redelivery")
	assert.Equal(t, first.Detail, second.Detail)
}

func TestUnknownCommandIsReportedNotFatal(t *testing.T) {
	d := command.NewDispatcher(0, logger.Nop())

	result := d.Dispatch(context.Background(), wire.Command{CommandID: "c-9", Name: "open-pod-bay-doors"})

	assert.False(t, result.OK)
	assert.Contains(t, result.Detail, "open-pod-bay-doors")
	assert.Equal(t, "c-9", result.CommandID)
}

func TestHandlerErrorReportedInResult(t *testing.T) {
	d := command.NewDispatcher(0, logger.Nop())

	require.NoError(t, d.Register(command.HandlerFunc("calibrate", func(context.Context, map[string]any) error {
		return fmt.Errorf("sensor busy")
	})))

	result := d.Dispatch(context.Background(), wire.Command{CommandID: "c-2", Name: "calibrate"})

	assert.False(t, result.OK)
	assert.Contains(t, result.Detail, "sensor busy")
}

func TestSeenWindowEvictsOldestIDs(t *testing.T) {
	d := command.NewDispatcher(2, logger.Nop())

	calls := 0
	require.NoError(t, d.Register(command.HandlerFunc("ping", func(context.Context, map[string]any) error {
		calls++

		return nil
	})))

	d.Dispatch(context.Background(), wire.Command{CommandID: "a", Name: "ping"})
	d.Dispatch(context.Background(), wire.Command{CommandID: "b", Name: "ping"})
	d.Dispatch(context.Background(), wire.Command{CommandID: "c", Name: "ping"})

	// "a" has been evicted from the window, so redelivery executes again.
	d.Dispatch(context.Background(), wire.Command{CommandID: "a", Name: "ping"})

	assert.Equal(t, 4, calls)
}

func TestDuplicateHandlerRejected(t *testing.T) {
	d := command.NewDispatcher(0, logger.Nop())

	h := command.HandlerFunc("ping", func(context.Context, map[string]any) error { return nil })
	require.NoError(t, d.Register(h))
	require.Error(t, d.Register(h))
}

func TestArgumentsPassedThrough(t *testing.T) {
	d := command.NewDispatcher(0, logger.Nop())

	var got map[string]any
	require.NoError(t, d.Register(command.HandlerFunc("set-cadence", func(_ context.Context, args map[string]any) error {
		got = args

		return nil
	})))

	result := d.Dispatch(context.Background(), wire.Command{
		CommandID: "c-3",
		Name:      "set-cadence",
		Args:      map[string]any{"source_id": "temp-1", "seconds": 30},
	})

	require.True(t, result.OK)
	assert.Equal(t, "temp-1", got["source_id"])
}
