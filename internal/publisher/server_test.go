package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/bt-monitor/internal/blackboard"
	"github.com/tamzrod/bt-monitor/internal/breakpoint"
	btlog "github.com/tamzrod/bt-monitor/internal/log"
	"github.com/tamzrod/bt-monitor/internal/protocol"
	"github.com/tamzrod/bt-monitor/internal/status"
)

func TestNew_DuplicatePortFailsUntilClosed(t *testing.T) {
	ports := NewPortRegistry()
	tr := sampleTree(t)

	first, err := New(ports, tr, Config{Port: 1667}, WithTransport(newFakeTransport()))
	require.NoError(t, err)

	_, err = New(ports, tr, Config{Port: 1667}, WithTransport(newFakeTransport()))
	require.ErrorIs(t, err, ErrPortInUse)

	// port+1 is reserved as well
	_, err = New(ports, tr, Config{Port: 1666}, WithTransport(newFakeTransport()))
	require.ErrorIs(t, err, ErrPortInUse)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := New(ports, tr, Config{Port: 1667}, WithTransport(newFakeTransport()))
	require.NoError(t, err)
	require.NoError(t, second.Close())
	assert.False(t, ports.InUse(1667))
	assert.False(t, ports.InUse(1668))
}

func TestNew_FailedBindReleasesPorts(t *testing.T) {
	ports := NewPortRegistry()
	_, err := New(ports, sampleTree(t), Config{Port: 1667}, WithTransport(failingTransport{}))
	require.Error(t, err)
	assert.False(t, ports.InUse(1667))
}

type failingTransport struct{}

func (failingTransport) ListenReply(context.Context, int) (Conn, error) {
	return nil, errors.New("address already in use")
}

func (failingTransport) ListenNotify(context.Context, int) (Notifier, error) {
	return nil, errors.New("address already in use")
}

func TestServer_WrongHeaderThenRecovers(t *testing.T) {
	h := newHarness(t, Config{})
	before := testutil.ToFloat64(errorRepliesTotal.WithLabelValues("1667", "wrong_header"))

	reply := h.ft.roundTrip(t, []byte{1, 'S', 0, 0, 0})
	assert.Equal(t, protocol.MsgWrongHeader, errorReply(t, reply))
	assert.Equal(t, before+1, testutil.ToFloat64(errorRepliesTotal.WithLabelValues("1667", "wrong_header")))

	req, reply := h.ft.request(t, protocol.KindStatus)
	payload := okReply(t, h.srv, req, reply)
	require.Len(t, payload, 1)
	assert.Len(t, payload[0], 4*status.RecordSize)
}

func TestServer_UnknownKind(t *testing.T) {
	h := newHarness(t, Config{})

	_, reply := h.ft.request(t, protocol.Kind('Z'))
	assert.Equal(t, protocol.MsgNotRecognized, errorReply(t, reply))

	_, reply = h.ft.request(t, protocol.KindUndefined)
	assert.Equal(t, protocol.MsgNotRecognized, errorReply(t, reply))
}

func TestServer_BodyKindsNeedTwoFrames(t *testing.T) {
	h := newHarness(t, Config{})

	for _, k := range []protocol.Kind{
		protocol.KindBlackboard,
		protocol.KindHookInsert,
		protocol.KindHookRemove,
		protocol.KindBreakpointUnlock,
		protocol.KindToggleRecording,
	} {
		_, reply := h.ft.request(t, k)
		assert.Equal(t, protocol.MsgTwoParts, errorReply(t, reply), k.String())
	}
}

func TestServer_FullTreeAndTreeID(t *testing.T) {
	h := newHarness(t, Config{})

	req, reply := h.ft.request(t, protocol.KindFullTree)
	payload := okReply(t, h.srv, req, reply)
	require.Len(t, payload, 1)

	want, err := h.tree.XML()
	require.NoError(t, err)
	assert.Equal(t, want, string(payload[0]))

	// the tree id is stable across requests
	req, reply = h.ft.request(t, protocol.KindFullTree)
	okReply(t, h.srv, req, reply)
}

func TestServer_ThreeNodesSucceed(t *testing.T) {
	h := newHarness(t, Config{})
	now := h.clock.Now()

	for _, uid := range []uint16{1, 2, 3} {
		h.srv.OnStatusChange(now, uid, status.StatusIdle, status.StatusRunning)
		h.srv.OnStatusChange(now, uid, status.StatusRunning, status.StatusSuccess)
	}

	req, reply := h.ft.request(t, protocol.KindStatus)
	payload := okReply(t, h.srv, req, reply)
	recs, err := status.DecodeSnapshot(payload[0])
	require.NoError(t, err)
	assert.Equal(t, []status.Record{
		{UID: 1, Status: status.StatusSuccess},
		{UID: 2, Status: status.StatusSuccess},
		{UID: 3, Status: status.StatusSuccess},
		{UID: 7, Status: status.StatusIdle},
	}, recs)

	// reset to idle keeps the previous status visible
	h.srv.OnStatusChange(now, 2, status.StatusSuccess, status.StatusIdle)
	st, ok := h.srv.buffer.Get(2)
	require.True(t, ok)
	assert.Equal(t, status.StatusIdleFromSuccess, st)
}

func TestServer_InteractiveBreakpointUnlockAndRemove(t *testing.T) {
	h := newHarness(t, Config{Notify: true})

	req, reply := h.ft.request(t, protocol.KindHookInsert,
		[]byte(`{"uid":7,"position":0,"interactive":true}`))
	okReply(t, h.srv, req, reply)

	result := make(chan status.NodeStatus, 1)
	go func() { result <- h.srv.PreTick(context.Background(), 7) }()

	require.Eventually(t, func() bool {
		return h.srv.hooks.Parked(breakpoint.Pre, 7)
	}, waitFor, time.Millisecond)

	select {
	case frames := <-h.ft.published:
		require.Len(t, frames, 2)
		hdr, err := protocol.ParseRequestHeader(frames[0])
		require.NoError(t, err)
		assert.Equal(t, protocol.KindBreakpointReached, hdr.Kind)
		assert.Equal(t, "7", string(frames[1]))
	case <-time.After(waitFor):
		t.Fatal("no breakpoint notification")
	}

	req, reply = h.ft.request(t, protocol.KindBreakpointUnlock,
		[]byte(`{"uid":7,"position":0,"desired_status":"FAILURE","remove_when_done":true}`))
	okReply(t, h.srv, req, reply)

	select {
	case st := <-result:
		assert.Equal(t, status.StatusFailure, st)
	case <-time.After(waitFor):
		t.Fatal("execution still parked")
	}

	require.Eventually(t, func() bool { return h.srv.hooks.Len() == 0 }, waitFor, time.Millisecond)

	req, reply = h.ft.request(t, protocol.KindHooksDump)
	payload := okReply(t, h.srv, req, reply)
	assert.JSONEq(t, `[]`, string(payload[0]))
}

func TestServer_HookErrors(t *testing.T) {
	h := newHarness(t, Config{})

	_, reply := h.ft.request(t, protocol.KindHookRemove, []byte(`{"uid":7,"position":0}`))
	assert.Equal(t, protocol.MsgNodeNotFound, errorReply(t, reply))

	_, reply = h.ft.request(t, protocol.KindHookInsert, []byte(`{"uid":99,"position":0}`))
	assert.Equal(t, protocol.MsgNodeNotFound, errorReply(t, reply))

	_, reply = h.ft.request(t, protocol.KindHookInsert, []byte(`{"uid":1,"position":5}`))
	errorReply(t, reply)

	_, reply = h.ft.request(t, protocol.KindHookInsert, []byte(`not json`))
	errorReply(t, reply)

	_, reply = h.ft.request(t, protocol.KindBreakpointUnlock,
		[]byte(`{"uid":3,"position":1,"desired_status":"SUCCESS","remove_when_done":false}`))
	assert.Equal(t, protocol.MsgNodeNotFound, errorReply(t, reply))

	// an existing hook is not overwritten
	req, reply := h.ft.request(t, protocol.KindHookInsert, []byte(`{"uid":1,"position":0,"desired_status":"SUCCESS"}`))
	okReply(t, h.srv, req, reply)
	_, reply = h.ft.request(t, protocol.KindHookInsert, []byte(`{"uid":1,"position":0,"desired_status":"FAILURE"}`))
	assert.Contains(t, errorReply(t, reply), breakpoint.ErrExists.Error())

	hook, ok := h.srv.hooks.Get(breakpoint.Pre, 1)
	require.True(t, ok)
	assert.Equal(t, status.StatusSuccess, hook.DesiredStatus)

	// not waiting
	req, reply = h.ft.request(t, protocol.KindHookInsert, []byte(`{"uid":2,"position":0,"interactive":true}`))
	okReply(t, h.srv, req, reply)
	_, reply = h.ft.request(t, protocol.KindBreakpointUnlock,
		[]byte(`{"uid":2,"position":0,"desired_status":"SUCCESS","remove_when_done":false}`))
	assert.Equal(t, breakpoint.ErrNotWaiting.Error(), errorReply(t, reply))
}

func TestServer_InsertArrayDumpAndRemoveAll(t *testing.T) {
	h := newHarness(t, Config{})

	req, reply := h.ft.request(t, protocol.KindHookInsert, []byte(`[
		{"uid":3,"position":1,"desired_status":"SUCCESS","once":true},
		{"uid":1,"position":0,"interactive":true,"enabled":false}
	]`))
	okReply(t, h.srv, req, reply)
	assert.Equal(t, 2.0, testutil.ToFloat64(hooksActive.WithLabelValues("1667")))

	req, reply = h.ft.request(t, protocol.KindHooksDump)
	payload := okReply(t, h.srv, req, reply)

	var dumped []protocol.HookDescriptor
	require.NoError(t, json.Unmarshal(payload[0], &dumped))
	assert.Equal(t, []protocol.HookDescriptor{
		{Enabled: false, UID: 1, Interactive: true, DesiredStatus: "SKIPPED", Position: protocol.PositionPre},
		{Enabled: true, UID: 3, Once: true, DesiredStatus: "SUCCESS", Position: protocol.PositionPost},
	}, dumped)

	// auto hook forces its status once
	assert.Equal(t, status.StatusSuccess, h.srv.PostTick(context.Background(), 3))
	assert.Equal(t, status.StatusIdle, h.srv.PostTick(context.Background(), 3))
	// disabled interactive hook does not block
	assert.Equal(t, status.StatusIdle, h.srv.PreTick(context.Background(), 1))

	req, reply = h.ft.request(t, protocol.KindRemoveAllHooks)
	okReply(t, h.srv, req, reply)
	assert.Equal(t, 0, h.srv.hooks.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(hooksActive.WithLabelValues("1667")))
}

func TestServer_DisableAllReleasesParked(t *testing.T) {
	h := newHarness(t, Config{})

	req, reply := h.ft.request(t, protocol.KindHookInsert, []byte(`{"uid":2,"position":1,"interactive":true}`))
	okReply(t, h.srv, req, reply)

	result := make(chan status.NodeStatus, 1)
	go func() { result <- h.srv.PostTick(context.Background(), 2) }()
	require.Eventually(t, func() bool { return h.srv.hooks.Parked(breakpoint.Post, 2) }, waitFor, time.Millisecond)

	req, reply = h.ft.request(t, protocol.KindDisableAllHooks)
	okReply(t, h.srv, req, reply)

	select {
	case st := <-result:
		assert.Equal(t, status.StatusIdle, st)
	case <-time.After(waitFor):
		t.Fatal("execution still parked")
	}

	hook, ok := h.srv.hooks.Get(breakpoint.Post, 2)
	require.True(t, ok)
	assert.False(t, hook.Enabled)
}

func TestServer_Blackboard(t *testing.T) {
	h := newHarness(t, Config{})
	skipped := testutil.ToFloat64(blackboardSkipped.WithLabelValues("1667"))

	req, reply := h.ft.request(t, protocol.KindBlackboard,
		protocol.JoinBlackboardNames([]string{"MainTree", "ghost", "dock_1"}))
	payload := okReply(t, h.srv, req, reply)
	require.Len(t, payload, 1)

	doc, err := blackboard.Decode(payload[0])
	require.NoError(t, err)
	require.Contains(t, doc, "MainTree")
	assert.Equal(t, "dock", doc["MainTree"]["goal"])
	assert.EqualValues(t, 3, doc["MainTree"]["retries"])
	assert.NotContains(t, doc, "ghost")

	// ghost is unknown, dock_1 has no blackboard
	assert.Equal(t, skipped+2, testutil.ToFloat64(blackboardSkipped.WithLabelValues("1667")))

	runtime.KeepAlive(h.tree)
}

func TestServer_Recording(t *testing.T) {
	h := newHarness(t, Config{})

	req, reply := h.ft.request(t, protocol.KindToggleRecording, []byte("start"))
	payload := okReply(t, h.srv, req, reply)
	start := h.clock.Now()
	assert.Equal(t, strconv.FormatInt(start.UnixMicro(), 10), string(payload[0]))

	h.srv.OnStatusChange(start.Add(1500*time.Microsecond), 1, status.StatusIdle, status.StatusRunning)
	h.srv.OnStatusChange(start.Add(3*time.Millisecond), 1, status.StatusRunning, status.StatusIdle)

	req, reply = h.ft.request(t, protocol.KindGetTransitions)
	payload = okReply(t, h.srv, req, reply)
	require.Len(t, payload[0], 2*status.TransitionSize)
	assert.Equal(t, []status.Transition{
		{Offset: 1500 * time.Microsecond, UID: 1, Status: status.StatusRunning},
		{Offset: 3 * time.Millisecond, UID: 1, Status: status.StatusIdle},
	}, status.DecodeTransitions(payload[0]))

	// drained
	req, reply = h.ft.request(t, protocol.KindGetTransitions)
	payload = okReply(t, h.srv, req, reply)
	assert.Empty(t, payload[0])

	req, reply = h.ft.request(t, protocol.KindToggleRecording, []byte("stop"))
	okReply(t, h.srv, req, reply)
	h.srv.OnStatusChange(start, 2, status.StatusIdle, status.StatusRunning)
	assert.Equal(t, 0, h.srv.recorder.Len())

	_, reply = h.ft.request(t, protocol.KindToggleRecording, []byte("pause"))
	assert.Equal(t, protocol.MsgRecordingUsage, errorReply(t, reply))
}

func TestServer_HeartbeatDisablesAndRestoresHooks(t *testing.T) {
	h := newHarness(t, Config{Heartbeat: 50 * time.Millisecond})

	req, reply := h.ft.request(t, protocol.KindHookInsert, []byte(`{"uid":7,"position":0,"interactive":true}`))
	okReply(t, h.srv, req, reply)

	result := make(chan status.NodeStatus, 1)
	go func() { result <- h.srv.PreTick(context.Background(), 7) }()
	require.Eventually(t, func() bool { return h.srv.hooks.Parked(breakpoint.Pre, 7) }, waitFor, time.Millisecond)

	// the debugger goes silent
	h.clock.Advance(time.Second)

	select {
	case st := <-result:
		assert.Equal(t, status.StatusIdle, st)
	case <-time.After(waitFor):
		t.Fatal("execution still parked after heartbeat loss")
	}
	hook, _ := h.srv.hooks.Get(breakpoint.Pre, 7)
	assert.False(t, hook.Enabled)

	// any request brings it back
	req, reply = h.ft.request(t, protocol.KindStatus)
	okReply(t, h.srv, req, reply)

	require.Eventually(t, func() bool {
		hook, _ := h.srv.hooks.Get(breakpoint.Pre, 7)
		return hook.Enabled
	}, waitFor, time.Millisecond)
}

func TestServer_CloseReleasesParked(t *testing.T) {
	h := newHarness(t, Config{})

	req, reply := h.ft.request(t, protocol.KindHookInsert, []byte(`{"uid":3,"position":0,"interactive":true}`))
	okReply(t, h.srv, req, reply)

	result := make(chan status.NodeStatus, 1)
	go func() { result <- h.srv.PreTick(context.Background(), 3) }()
	require.Eventually(t, func() bool { return h.srv.hooks.Parked(breakpoint.Pre, 3) }, waitFor, time.Millisecond)

	require.NoError(t, h.srv.Close())

	select {
	case st := <-result:
		assert.Equal(t, status.StatusIdle, st)
	case <-time.After(waitFor):
		t.Fatal("execution still parked after close")
	}
	assert.False(t, h.ports.InUse(1667))
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServer_OnceHookUsedUpUpdatesGauge(t *testing.T) {
	var out lockedBuffer
	logger, err := btlog.New(btlog.Config{Level: "debug", Format: btlog.FormatJSON, Output: &out})
	require.NoError(t, err)

	ft := newFakeTransport()
	srv, err := New(NewPortRegistry(), sampleTree(t), Config{Port: 1677},
		WithTransport(ft), WithClock(newTestClock().Now), WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	req, reply := ft.request(t, protocol.KindHookInsert,
		[]byte(`{"uid":3,"position":1,"desired_status":"FAILURE","once":true}`))
	okReply(t, srv, req, reply)
	assert.Equal(t, 1.0, testutil.ToFloat64(hooksActive.WithLabelValues("1677")))

	// no request in between: the execution side keeps the gauge current
	assert.Equal(t, status.StatusFailure, srv.PostTick(context.Background(), 3))
	assert.Equal(t, 0.0, testutil.ToFloat64(hooksActive.WithLabelValues("1677")))

	assert.Contains(t, out.String(), `"msg":"once hook removed"`)
	assert.Contains(t, out.String(), `"`+btlog.UIDKey+`":3`)
}
