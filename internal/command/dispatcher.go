// Package command routes inbound collector commands to registered local
// handlers, deduplicating redelivery from the at-least-once uplink.
package command

import (
	"context"
	"sync"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/logger"
	"codeberg.org/halvard/fieldlink/internal/wire"
)

const defaultSeenWindow = 256

// Handler executes one named command.
type Handler interface {
	Name() string
	Handle(ctx context.Context, args map[string]any) error
}

type handlerFunc struct {
	name string
	fn   func(ctx context.Context, args map[string]any) error
}

func (h handlerFunc) Name() string { return h.name }

func (h handlerFunc) Handle(ctx context.Context, args map[string]any) error {
	return h.fn(ctx, args)
}

// HandlerFunc adapts a function to the Handler interface.
func HandlerFunc(name string, fn func(ctx context.Context, args map[string]any) error) Handler {
	return handlerFunc{name: name, fn: fn}
}

// Dispatcher maps command names to handlers and tracks recently seen command
// IDs in a bounded FIFO window so redelivered commands execute exactly once.
// The window caches each command's result so redelivery re-reports the
// original outcome instead of claiming success for a failed command.
type Dispatcher struct {
	log    logger.Logger
	window int

	mu        sync.Mutex
	handlers  map[string]Handler
	seen      map[string]*wire.CommandResult
	seenOrder []string
}

// NewDispatcher creates a dispatcher with the given dedup window size;
// window <= 0 uses the default.
func NewDispatcher(window int, log logger.Logger) *Dispatcher {
	if window <= 0 {
		window = defaultSeenWindow
	}

	return &Dispatcher{
		log:      log,
		window:   window,
		handlers: make(map[string]Handler),
		seen:     make(map[string]*wire.CommandResult),
	}
}

// Register adds a handler. Duplicate names are rejected.
func (d *Dispatcher) Register(h Handler) error {
	errFactory := errors.New()

	name := h.Name()
	if name == "" {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "handler name must not be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[name]; exists {
		return errFactory.WithData(ErrDuplicateHandler, name)
	}
	d.handlers[name] = h

	return nil
}

// Dispatch executes cmd and returns the result to report upstream. A
// duplicate command ID does not re-execute the handler: the cached original
// result is re-reported. Unknown command names are reported, not fatal.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd wire.Command) wire.CommandResult {
	d.mu.Lock()
	if cached, dup := d.seen[cmd.CommandID]; dup {
		d.mu.Unlock()
		d.log.Debug().
			Str("command_id", cmd.CommandID).
			Str("name", cmd.Name).
			Msg("Duplicate command delivery skipped")

		if cached != nil {
			return *cached
		}

		// Original delivery is still executing; it reports its own result.
		return wire.CommandResult{CommandID: cmd.CommandID, OK: true, Detail: "duplicate"}
	}
	d.remember(cmd.CommandID)
	handler, known := d.handlers[cmd.Name]
	d.mu.Unlock()

	var result wire.CommandResult

	switch {
	case !known:
		err := errors.New().WithData(ErrUnknownCommand, cmd.Name)
		d.log.Warn().
			Str("command_id", cmd.CommandID).
			Str("name", cmd.Name).
			Msg("Unknown command")

		result = wire.CommandResult{CommandID: cmd.CommandID, OK: false, Detail: err.Error()}
	default:
		if err := handler.Handle(ctx, cmd.Args); err != nil {
			d.log.Warn().
				Err(err).
				Str("command_id", cmd.CommandID).
				Str("name", cmd.Name).
				Msg("Command handler failed")

			result = wire.CommandResult{CommandID: cmd.CommandID, OK: false, Detail: err.Error()}
		} else {
			d.log.Info().
				Str("command_id", cmd.CommandID).
				Str("name", cmd.Name).
				Msg("Command executed")

			result = wire.CommandResult{CommandID: cmd.CommandID, OK: true}
		}
	}

	d.mu.Lock()
	if _, held := d.seen[cmd.CommandID]; held {
		cached := result
		d.seen[cmd.CommandID] = &cached
	}
	d.mu.Unlock()

	return result
}

// remember records a command ID, evicting the oldest beyond the window.
// Caller holds d.mu.
func (d *Dispatcher) remember(id string) {
	d.seen[id] = nil
	d.seenOrder = append(d.seenOrder, id)

	for len(d.seenOrder) > d.window {
		oldest := d.seenOrder[0]
		d.seenOrder = d.seenOrder[1:]
		delete(d.seen, oldest)
	}
}
