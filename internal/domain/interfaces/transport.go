package interfaces

import "context"

// Conn is a bidirectional, ordered stream of text frames. Both the client and
// the mailbox server speak the wire protocol over one of these.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Conn to a mailbox server.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialFunc adapts a plain function to a Dialer.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Dial calls f(ctx, url).
func (f DialFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }
