// internal/client/client.go
//
// Package client is the debugger side of the monitor protocol.
// It is used by the probe command and by end-to-end tests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/tamzrod/bt-monitor/internal/blackboard"
	"github.com/tamzrod/bt-monitor/internal/protocol"
	"github.com/tamzrod/bt-monitor/internal/status"
)

var (
	// ErrUniqueID means the reply does not echo the request's unique id.
	ErrUniqueID = errors.New("client: reply unique id mismatch")

	// ErrTreeChanged means the tree id differs from the one first seen,
	// i.e. the publisher was restarted.
	ErrTreeChanged = errors.New("client: tree id changed")

	ErrMalformedReply = errors.New("client: malformed reply")
)

// RemoteError is an "error" reply from the publisher.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string {
	return "client: publisher error: " + e.Msg
}

// Client issues requests over a REQ socket, one at a time.
type Client struct {
	mu  sync.Mutex
	sck zmq4.Socket

	treeID   protocol.TreeID
	haveTree bool
}

// Dial connects to a publisher endpoint, e.g. "tcp://127.0.0.1:1667".
// Requests block until a reply arrives or ctx is done.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*Client, error) {
	var opts []zmq4.Option
	if timeout > 0 {
		opts = append(opts, zmq4.WithTimeout(timeout))
	}
	sck := zmq4.NewReq(ctx, opts...)
	if err := sck.Dial(endpoint); err != nil {
		_ = sck.Close()
		return nil, fmt.Errorf("client: dial %s: %w", endpoint, err)
	}
	return &Client{sck: sck}, nil
}

func (c *Client) Close() error {
	return c.sck.Close()
}

// TreeID returns the tree id seen in the first reply.
func (c *Client) TreeID() (protocol.TreeID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.treeID, c.haveTree
}

// Do sends one request and returns the frames following the reply header.
func (c *Client) Do(kind protocol.Kind, body ...[]byte) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := protocol.NewRequestHeader(kind)
	hdr := protocol.EncodeRequestHeader(req)
	frames := append([][]byte{hdr[:]}, body...)

	if err := c.sck.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return nil, fmt.Errorf("client: send %s: %w", kind, err)
	}
	msg, err := c.sck.Recv()
	if err != nil {
		return nil, fmt.Errorf("client: recv %s: %w", kind, err)
	}

	if text, isErr := protocol.IsErrorReply(msg.Frames); isErr {
		return nil, &RemoteError{Msg: text}
	}
	if len(msg.Frames) == 0 {
		return nil, ErrMalformedReply
	}
	rh, err := protocol.ParseReplyHeader(msg.Frames[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if rh.Request.UniqueID != req.UniqueID {
		return nil, ErrUniqueID
	}
	if c.haveTree && rh.TreeID != c.treeID {
		return nil, ErrTreeChanged
	}
	c.treeID, c.haveTree = rh.TreeID, true

	return msg.Frames[1:], nil
}

// ---- Requests ----

func (c *Client) FullTree() (string, error) {
	payload, err := c.single(protocol.KindFullTree)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (c *Client) Status() ([]status.Record, error) {
	payload, err := c.single(protocol.KindStatus)
	if err != nil {
		return nil, err
	}
	return status.DecodeSnapshot(payload)
}

func (c *Client) Blackboard(names ...string) (blackboard.Document, error) {
	payload, err := c.single(protocol.KindBlackboard, protocol.JoinBlackboardNames(names))
	if err != nil {
		return nil, err
	}
	return blackboard.Decode(payload)
}

func (c *Client) InsertHooks(ds ...protocol.HookDescriptor) error {
	body, err := protocol.EncodeHookDescriptors(ds)
	if err != nil {
		return err
	}
	_, err = c.Do(protocol.KindHookInsert, body)
	return err
}

func (c *Client) RemoveHook(uid uint16, position int) error {
	body, err := json.Marshal(protocol.RemoveRequest{UID: uid, Position: position})
	if err != nil {
		return err
	}
	_, err = c.Do(protocol.KindHookRemove, body)
	return err
}

func (c *Client) Unlock(req protocol.UnlockRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.Do(protocol.KindBreakpointUnlock, body)
	return err
}

func (c *Client) Hooks() ([]protocol.HookDescriptor, error) {
	payload, err := c.single(protocol.KindHooksDump)
	if err != nil {
		return nil, err
	}
	var ds []protocol.HookDescriptor
	if err := json.Unmarshal(payload, &ds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return ds, nil
}

func (c *Client) RemoveAllHooks() error {
	_, err := c.Do(protocol.KindRemoveAllHooks)
	return err
}

func (c *Client) DisableAllHooks() error {
	_, err := c.Do(protocol.KindDisableAllHooks)
	return err
}

// StartRecording returns the publisher's clock at the start of recording.
func (c *Client) StartRecording() (time.Time, error) {
	payload, err := c.single(protocol.KindToggleRecording, []byte("start"))
	if err != nil {
		return time.Time{}, err
	}
	usec, err := strconv.ParseInt(string(payload), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return time.UnixMicro(usec), nil
}

func (c *Client) StopRecording() error {
	_, err := c.Do(protocol.KindToggleRecording, []byte("stop"))
	return err
}

// Transitions fetches and clears the publisher's transition log.
func (c *Client) Transitions() ([]status.Transition, error) {
	payload, err := c.single(protocol.KindGetTransitions)
	if err != nil {
		return nil, err
	}
	return status.DecodeTransitions(payload), nil
}

// single expects exactly one payload frame.
func (c *Client) single(kind protocol.Kind, body ...[]byte) ([]byte, error) {
	frames, err := c.Do(kind, body...)
	if err != nil {
		return nil, err
	}
	if len(frames) != 1 {
		return nil, fmt.Errorf("%w: %s reply has %d payload frames", ErrMalformedReply, kind, len(frames))
	}
	return frames[0], nil
}
