// internal/publisher/transport.go
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Conn is the request/reply endpoint driven by the serve loop.
// Recv returns once a request arrives or the listen context is done.
type Conn interface {
	Recv() ([][]byte, error)
	Send(frames [][]byte) error
	Close() error
}

// Notifier broadcasts breakpoint notifications.
type Notifier interface {
	Publish(frames [][]byte) error
	Close() error
}

// Transport binds the two endpoints of a server.
type Transport interface {
	ListenReply(ctx context.Context, port int) (Conn, error)
	ListenNotify(ctx context.Context, port int) (Notifier, error)
}

// Endpoint is the address a server binds for port.
func Endpoint(port int) string {
	return fmt.Sprintf("tcp://*:%d", port)
}

// ZMQ is the ZeroMQ transport: a REP socket for requests
// and a PUB socket for notifications.
type ZMQ struct {
	// Timeout bounds socket send and handshake operations.
	Timeout time.Duration
}

func (z ZMQ) options() []zmq4.Option {
	if z.Timeout <= 0 {
		return nil
	}
	return []zmq4.Option{zmq4.WithTimeout(z.Timeout)}
}

func (z ZMQ) ListenReply(ctx context.Context, port int) (Conn, error) {
	sck := zmq4.NewRep(ctx, z.options()...)
	if err := sck.Listen(Endpoint(port)); err != nil {
		_ = sck.Close()
		return nil, fmt.Errorf("publisher: bind %s: %w", Endpoint(port), err)
	}
	return &zmqConn{sck: sck}, nil
}

func (z ZMQ) ListenNotify(ctx context.Context, port int) (Notifier, error) {
	sck := zmq4.NewPub(ctx, z.options()...)
	if err := sck.Listen(Endpoint(port)); err != nil {
		_ = sck.Close()
		return nil, fmt.Errorf("publisher: bind %s: %w", Endpoint(port), err)
	}
	return &zmqConn{sck: sck}, nil
}

type zmqConn struct {
	sck zmq4.Socket
}

func (c *zmqConn) Recv() ([][]byte, error) {
	msg, err := c.sck.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (c *zmqConn) Send(frames [][]byte) error {
	return c.sck.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (c *zmqConn) Publish(frames [][]byte) error {
	return c.Send(frames)
}

func (c *zmqConn) Close() error {
	return c.sck.Close()
}
