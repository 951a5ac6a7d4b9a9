package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/kagami/realtime-relay/internal/config"
)

// startEchoUpstream runs a WebSocket server that echoes every frame back,
// standing in for the realtime API.
func startEchoUpstream(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c, err := websocket.Accept(w, req, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := req.Context()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if err := c.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startRelay(t *testing.T, mutate func(c *config.Config)) (*Relay, string) {
	t.Helper()
	cfg := testConfig()
	cfg.UpstreamURL = startEchoUpstream(t)
	if mutate != nil {
		mutate(cfg)
	}
	r := New(cfg)
	srv := httptest.NewServer(r.Routes())
	t.Cleanup(srv.Close)
	return r, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialRelay(t *testing.T, ctx context.Context, url, origin string) (*websocket.Conn, error) {
	t.Helper()
	opts := &websocket.DialOptions{}
	if origin != "" {
		opts.HTTPHeader = http.Header{"Origin": []string{origin}}
	}
	c, resp, err := websocket.Dial(ctx, url, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return c, err
}

func TestServeWS_SessionCreatedAndRelay(t *testing.T) {
	r, wsURL := startRelay(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := dialRelay(t, ctx, wsURL+"?project=mural&colony=kagami", "")
	require.NoError(t, err)
	defer c.CloseNow()

	// First frame is the proxy's own session envelope.
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "proxy.session.created", gjson.GetBytes(data, "type").String())
	assert.Equal(t, int64(1), gjson.GetBytes(data, "session_id").Int())
	assert.Equal(t, "test-realtime-model", gjson.GetBytes(data, "model").String())
	assert.Equal(t, "mural", gjson.GetBytes(data, "project").String())
	assert.Equal(t, "kagami", gjson.GetBytes(data, "colony").String())

	// A relayed frame comes back from the echo upstream verbatim.
	frame := `{"type":"response.create"}`
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(frame)))
	_, data, err = c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, frame, string(data))

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return r.Registry().ActiveCount() == 0 },
		2*time.Second, 10*time.Millisecond, "session should be cleaned up after client close")
	assert.Equal(t, int64(1), r.Registry().TotalCreated())
}

func TestServeWS_OriginRejectedWith4003(t *testing.T) {
	r, wsURL := startRelay(t, func(c *config.Config) {
		c.AllowedOrigins = []string{"https://a.example"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := dialRelay(t, ctx, wsURL, "https://b.example")
	require.NoError(t, err, "the upgrade completes so the close code can be delivered")
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusOriginNotAllowed, websocket.CloseStatus(err))
	assert.Equal(t, int64(0), r.Registry().TotalCreated(), "no session id is consumed")
}

func TestServeWS_CapacityRejectedWith4029(t *testing.T) {
	r, wsURL := startRelay(t, func(c *config.Config) {
		c.MaxSessions = 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := dialRelay(t, ctx, wsURL, "")
	require.NoError(t, err)
	defer first.CloseNow()
	_, _, err = first.Read(ctx) // session.created: first session is registered
	require.NoError(t, err)

	second, err := dialRelay(t, ctx, wsURL, "")
	require.NoError(t, err)
	defer second.CloseNow()
	_, _, err = second.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusAtCapacity, websocket.CloseStatus(err))
	assert.Equal(t, int64(1), r.Registry().TotalCreated())

	// Freeing the slot admits the next attempt.
	require.NoError(t, first.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return r.Registry().ActiveCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	third, err := dialRelay(t, ctx, wsURL, "")
	require.NoError(t, err)
	defer third.CloseNow()
	_, data, err := third.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "proxy.session.created", gjson.GetBytes(data, "type").String())
}

func TestServeWS_UpstreamDialFailureCloses4502(t *testing.T) {
	r, wsURL := startRelay(t, func(c *config.Config) {
		c.UpstreamURL = "ws://127.0.0.1:1" // nothing listens here
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := dialRelay(t, ctx, wsURL, "")
	require.NoError(t, err)
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusUpstreamError, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return r.Registry().ActiveCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
