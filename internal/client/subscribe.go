// internal/client/subscribe.go
package client

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-zeromq/zmq4"

	"github.com/tamzrod/bt-monitor/internal/protocol"
)

// Subscription receives "breakpoint reached" notifications.
type Subscription struct {
	sck zmq4.Socket
}

// Subscribe connects to the notification endpoint of a publisher
// (its port + 1). Recv unblocks when ctx is done.
func Subscribe(ctx context.Context, endpoint string) (*Subscription, error) {
	sck := zmq4.NewSub(ctx)
	if err := sck.Dial(endpoint); err != nil {
		_ = sck.Close()
		return nil, fmt.Errorf("client: dial %s: %w", endpoint, err)
	}
	if err := sck.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		_ = sck.Close()
		return nil, fmt.Errorf("client: subscribe: %w", err)
	}
	return &Subscription{sck: sck}, nil
}

// Next blocks until a notification arrives and returns the node uid.
func (s *Subscription) Next() (uint16, error) {
	msg, err := s.sck.Recv()
	if err != nil {
		return 0, err
	}
	if len(msg.Frames) != 2 {
		return 0, fmt.Errorf("%w: notification has %d frames", ErrMalformedReply, len(msg.Frames))
	}
	hdr, err := protocol.ParseRequestHeader(msg.Frames[0])
	if err != nil || hdr.Kind != protocol.KindBreakpointReached {
		return 0, fmt.Errorf("%w: bad notification header", ErrMalformedReply)
	}
	uid, err := strconv.ParseUint(string(msg.Frames[1]), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return uint16(uid), nil
}

func (s *Subscription) Close() error {
	return s.sck.Close()
}
