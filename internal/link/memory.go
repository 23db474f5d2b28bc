package link

import (
	"context"
	"io"
	"net"
)

// MemoryLink is an in-process Link backed by net.Pipe, used by tests and
// local tooling. Each Connect hands the peer end to Accept.
type MemoryLink struct {
	accept chan net.Conn
}

func NewMemoryLink() *MemoryLink {
	return &MemoryLink{
		accept: make(chan net.Conn, 1),
	}
}

func (l *MemoryLink) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	client, server := net.Pipe()

	select {
	case l.accept <- server:
		return client, nil
	case <-ctx.Done():
		client.Close()
		server.Close()

		return nil, ctx.Err()
	}
}

// Accept blocks until a Connect provides the collector-side conn.
func (l *MemoryLink) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case conn := <-l.accept:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
