package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	btlog "github.com/tamzrod/bt-monitor/internal/log"
	"github.com/tamzrod/bt-monitor/internal/protocol"
	"github.com/tamzrod/bt-monitor/internal/tree"
)

const waitFor = 2 * time.Second

// fakeTransport hands requests to the serve loop through channels.
type fakeTransport struct {
	requests  chan [][]byte
	replies   chan [][]byte
	published chan [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		requests:  make(chan [][]byte),
		replies:   make(chan [][]byte, 1),
		published: make(chan [][]byte, 16),
	}
}

func (f *fakeTransport) ListenReply(ctx context.Context, _ int) (Conn, error) {
	return &fakeConn{ctx: ctx, f: f}, nil
}

func (f *fakeTransport) ListenNotify(ctx context.Context, _ int) (Notifier, error) {
	return &fakeConn{ctx: ctx, f: f}, nil
}

type fakeConn struct {
	ctx context.Context
	f   *fakeTransport
}

func (c *fakeConn) Recv() ([][]byte, error) {
	select {
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	case frames := <-c.f.requests:
		return frames, nil
	}
}

func (c *fakeConn) Send(frames [][]byte) error {
	c.f.replies <- frames
	return nil
}

func (c *fakeConn) Publish(frames [][]byte) error {
	select {
	case c.f.published <- frames:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error { return nil }

// roundTrip sends one request and waits for its reply.
func (f *fakeTransport) roundTrip(t *testing.T, frames ...[]byte) [][]byte {
	t.Helper()
	select {
	case f.requests <- frames:
	case <-time.After(waitFor):
		t.Fatal("request not accepted")
	}
	select {
	case reply := <-f.replies:
		return reply
	case <-time.After(waitFor):
		t.Fatal("no reply")
	}
	return nil
}

// request sends a well formed request of kind k and returns its header and reply.
func (f *fakeTransport) request(t *testing.T, k protocol.Kind, body ...[]byte) (protocol.RequestHeader, [][]byte) {
	t.Helper()
	hdr := protocol.NewRequestHeader(k)
	raw := protocol.EncodeRequestHeader(hdr)
	return hdr, f.roundTrip(t, append([][]byte{raw[:]}, body...)...)
}

// okReply checks the reply header against req and the server, and returns the payload frames.
func okReply(t *testing.T, s *Server, req protocol.RequestHeader, reply [][]byte) [][]byte {
	t.Helper()
	if msg, isErr := protocol.IsErrorReply(reply); isErr {
		t.Fatalf("unexpected error reply: %s", msg)
	}
	require.NotEmpty(t, reply)
	rh, err := protocol.ParseReplyHeader(reply[0])
	require.NoError(t, err)
	require.Equal(t, req, rh.Request)
	require.Equal(t, s.TreeID(), rh.TreeID)
	return reply[1:]
}

func errorReply(t *testing.T, reply [][]byte) string {
	t.Helper()
	msg, isErr := protocol.IsErrorReply(reply)
	require.True(t, isErr, "expected an error reply")
	return msg
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sampleTree has nodes 1..3 and 7 over two subtrees.
func sampleTree(t *testing.T) *tree.Static {
	t.Helper()
	bb := tree.NewMapBlackboard()
	bb.Set("goal", "dock")
	bb.Set("retries", 3)

	st, err := tree.NewStatic(
		&tree.Subtree{TreeID: "MainTree", Blackboard: bb, Nodes: []tree.Node{
			&tree.BasicNode{ID: 1, Label: "root", Kind: "Sequence"},
			&tree.BasicNode{ID: 2, Label: "approach", Kind: "Action"},
			&tree.BasicNode{ID: 3, Label: "grasp", Kind: "Action"},
		}},
		&tree.Subtree{TreeID: "Dock", InstanceName: "dock_1", Nodes: []tree.Node{
			&tree.BasicNode{ID: 7, Label: "align", Kind: "Action"},
		}},
	)
	require.NoError(t, err)
	return st
}

type harness struct {
	srv   *Server
	ft    *fakeTransport
	ports *PortRegistry
	clock *testClock
	tree  *tree.Static
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		ft:    newFakeTransport(),
		ports: NewPortRegistry(),
		clock: newTestClock(),
		tree:  sampleTree(t),
	}
	if cfg.Port == 0 {
		cfg.Port = 1667
	}
	srv, err := New(h.ports, h.tree, cfg, WithTransport(h.ft), WithClock(h.clock.Now), WithLogger(btlog.Discard()))
	require.NoError(t, err)
	h.srv = srv
	t.Cleanup(func() { _ = srv.Close() })
	return h
}
