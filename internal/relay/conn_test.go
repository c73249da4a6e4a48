package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wormhole/internal/domain"
	"wormhole/internal/relay"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// echoServer answers every frame with the same frame, and closes normally
// when it receives "bye".
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := relay.Accept(w, r, relay.AcceptOptions{})
		if err != nil {
			return
		}
		defer c.Close()
		ctx := r.Context()
		for {
			frame, err := c.Receive(ctx)
			if err != nil {
				return
			}
			if string(frame) == "bye" {
				return
			}
			if err := c.Send(ctx, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func TestConn_RoundTrip(t *testing.T) {
	s := echoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := relay.Dial(ctx, wsURL(s))
	require.NoError(t, err)
	defer c.Close()

	for _, frame := range []string{`{"type":"ping","ping":1}`, `{"type":"list"}`} {
		require.NoError(t, c.Send(ctx, []byte(frame)))
		got, err := c.Receive(ctx)
		require.NoError(t, err)
		require.Equal(t, frame, string(got))
	}
}

func TestConn_PeerCloseIsErrClosed(t *testing.T) {
	s := echoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := relay.Dial(ctx, wsURL(s))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(ctx, []byte("bye")))
	_, err = c.Receive(ctx)
	require.ErrorIs(t, err, relay.ErrClosed)
	require.ErrorIs(t, err, domain.ErrTransport)
}

func TestConn_ReceiveHonoursContext(t *testing.T) {
	s := echoServer(t)
	c, err := relay.Dial(context.Background(), wsURL(s))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial_Refused(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(s.Close)

	_, err := (&relay.Dialer{}).Dial(context.Background(), wsURL(s))
	require.ErrorIs(t, err, domain.ErrTransport)
}
