// Package link abstracts the unreliable duplex byte channel to the
// collector. The session layer treats it as dial-and-stream; framing lives
// in the wire package.
package link

import (
	"context"
	"io"
	"net"
	"time"

	"codeberg.org/halvard/fieldlink/internal/errors"
)

// Link produces connections to the collector. Connect may fail freely; the
// session retries with backoff. An error carrying the link_faulted code is
// terminal and moves the session to Faulted.
type Link interface {
	Connect(ctx context.Context) (io.ReadWriteCloser, error)
}

// Permanent reports whether err marks the channel as unrecoverable.
func Permanent(err error) bool {
	return errors.HasCode(err, errors.ErrLinkFaulted)
}

// TCPLink dials the collector over TCP. Stands in for any stream transport
// the radio driver exposes.
type TCPLink struct {
	Addr    string
	Timeout time.Duration
}

func (l *TCPLink) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: l.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", l.Addr)
	if err != nil {
		return nil, err
	}

	return conn, nil
}
