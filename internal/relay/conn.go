package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"wormhole/internal/domain"
)

// DefaultReadLimit bounds a single inbound frame.
const DefaultReadLimit = 1 << 20

// ErrClosed is returned by Receive once the peer closed the connection
// normally.
var ErrClosed = fmt.Errorf("relay: connection closed: %w", domain.ErrTransport)

// Conn is a websocket carrying one wire frame per text message.
type Conn struct {
	ws *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

var _ domain.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn, readLimit int64) *Conn {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	ws.SetReadLimit(readLimit)
	return &Conn{ws: ws}
}

// Send writes frame as one text message.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("relay: write: %w: %v", domain.ErrTransport, err)
	}
	return nil
}

// Receive returns the next frame. Binary messages are accepted as well.
//
// A cancelled ctx returns the context's error; the websocket library closes
// the connection in that case, so the Conn is unusable afterwards.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("relay: read: %w: %v", domain.ErrTransport, err)
	}
	return data, nil
}

// Close performs a normal websocket close.
func (c *Conn) Close() error {
	return c.CloseWith(websocket.StatusNormalClosure, "")
}

// CloseWith closes the connection with an explicit status, e.g.
// websocket.StatusPolicyViolation for a peer that could not keep up. Only
// the first call has any effect.
func (c *Conn) CloseWith(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close(code, reason)
	})
	return c.closeErr
}

// Dialer opens client connections to a mailbox server.
type Dialer struct {
	// ReadLimit overrides DefaultReadLimit.
	ReadLimit int64
	// HTTPClient is used for the handshake; nil means http.DefaultClient.
	HTTPClient *http.Client
	Header     http.Header
}

var _ domain.Dialer = (*Dialer)(nil)

// Dial connects to the websocket at url ("ws://host:4000/v1").
func (d *Dialer) Dial(ctx context.Context, url string) (domain.Conn, error) {
	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("relay: dial %s: %w: %v", url, domain.ErrTransport, err)
	}
	return newConn(ws, d.ReadLimit), nil
}

// Dial connects with a zero Dialer.
func Dial(ctx context.Context, url string) (domain.Conn, error) {
	return (&Dialer{}).Dial(ctx, url)
}

// AcceptOptions configures the server side of the handshake.
type AcceptOptions struct {
	// OriginPatterns lists browser origins allowed besides the server's own.
	// Non-browser clients send no Origin and are always accepted.
	OriginPatterns []string
	ReadLimit      int64
}

// Accept upgrades an HTTP request to a websocket Conn. On failure the
// response has already been written.
func Accept(w http.ResponseWriter, r *http.Request, opts AcceptOptions) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: opts.OriginPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: accept: %w: %v", domain.ErrTransport, err)
	}
	return newConn(ws, opts.ReadLimit), nil
}
