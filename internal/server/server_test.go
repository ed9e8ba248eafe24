package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srg/bleproxy/internal/ids"
	"github.com/srg/bleproxy/internal/session"
	"github.com/srg/bleproxy/internal/wire"
	"github.com/srg/bleproxy/internal/wireproto"
)

// testClient is a minimal hand-rolled native-API client used only to drive
// Server in tests: it speaks the same frame codec and message catalogue the
// daemon does, from the other end of the wire.
type testClient struct {
	t     *testing.T
	conn  net.Conn
	r     *wire.Reader
	w     *wire.Writer
	codec wireproto.Codec
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	return &testClient{t: t, conn: conn, r: wire.NewReader(conn), w: wire.NewWriter(conn), codec: wireproto.NewCodec()}
}

func (c *testClient) send(msg wireproto.Message) {
	c.t.Helper()
	payload, err := c.codec.Encode(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.w.WriteFrame(uint32(msg.MsgType()), payload))
}

func (c *testClient) recv() wireproto.Message {
	c.t.Helper()
	frame, err := c.r.ReadFrame()
	require.NoError(c.t, err)
	msg, err := c.codec.Decode(wireproto.MsgType(frame.MsgType), frame.Payload)
	require.NoError(c.t, err)
	return msg
}

func startServer(t *testing.T, shutdownGrace time.Duration, factory SessionFactory) (*Server, string, func()) {
	t.Helper()
	srv := New("127.0.0.1", 0, shutdownGrace, factory, nil)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	return srv, srv.Addr().String(), func() {
		cancel()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return after context cancel")
		}
	}
}

func echoFactory(id ids.SessionID) session.Config {
	return session.Config{}
}

func TestServer_HandshakeAndAuthenticate(t *testing.T) {
	_, addr, stop := startServer(t, time.Second, echoFactory)
	defer stop()

	c := dial(t, addr)
	defer c.conn.Close()

	c.send(&wireproto.HelloReq{ClientInfo: "test-client"})
	hello, ok := c.recv().(*wireproto.HelloResp)
	require.True(t, ok)
	require.NotZero(t, hello.APIVersionMajor)

	c.send(&wireproto.ConnectReq{})
	resp, ok := c.recv().(*wireproto.ConnectResp)
	require.True(t, ok)
	require.False(t, resp.InvalidPassword)
}

func TestServer_WrongPasswordDisconnectsClient(t *testing.T) {
	_, addr, stop := startServer(t, time.Second, func(id ids.SessionID) session.Config {
		return session.Config{Password: "secret"}
	})
	defer stop()

	c := dial(t, addr)
	defer c.conn.Close()

	c.send(&wireproto.HelloReq{})
	_ = c.recv()

	c.send(&wireproto.ConnectReq{Password: "wrong"})
	resp := c.recv().(*wireproto.ConnectResp)
	require.True(t, resp.InvalidPassword)

	c.conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := c.r.ReadFrame()
	require.Error(t, err, "server should close the socket after an invalid password")
}

func TestServer_PingPong(t *testing.T) {
	_, addr, stop := startServer(t, time.Second, echoFactory)
	defer stop()

	c := dial(t, addr)
	defer c.conn.Close()

	c.send(&wireproto.HelloReq{})
	_ = c.recv()

	c.send(&wireproto.PingReq{})
	_, ok := c.recv().(*wireproto.PingResp)
	require.True(t, ok)
}

func TestServer_DisconnectClosesSession(t *testing.T) {
	srv, addr, stop := startServer(t, time.Second, echoFactory)
	defer stop()

	c := dial(t, addr)
	defer c.conn.Close()

	c.send(&wireproto.HelloReq{})
	_ = c.recv()

	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	c.send(&wireproto.DisconnectReq{})
	_, ok := c.recv().(*wireproto.DisconnectResp)
	require.True(t, ok)

	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_GracefulShutdownSendsDisconnect(t *testing.T) {
	_, addr, stop := startServer(t, time.Second, echoFactory)

	c := dial(t, addr)
	defer c.conn.Close()

	c.send(&wireproto.HelloReq{})
	_ = c.recv()

	stop()

	c.conn.SetReadDeadline(time.Now().Add(time.Second))
	msg := c.recv()
	_, ok := msg.(*wireproto.DisconnectReq)
	require.True(t, ok, "server should push a DisconnectReq to live sessions on shutdown")
}
