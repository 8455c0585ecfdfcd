// internal/mirror/modbus.go
package mirror

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

var ErrQuantity = errors.New("mirror modbus: register quantity out of range")

// EndpointClient is the mirror's Modbus TCP connection.
// Writes are serialized: the unit id lives on the shared handler.
type EndpointClient struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client

	// broken is set after a failed write; the next write redials.
	broken bool
}

type EndpointConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// NewEndpointClient dials the endpoint once so a bad address fails at startup.
func NewEndpointClient(cfg EndpointConfig) (*EndpointClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("mirror modbus: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("mirror modbus: connect %s: %w", cfg.Endpoint, err)
	}

	return &EndpointClient{
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

func (c *EndpointClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// WriteRegisters writes one status block with FC 16.
func (c *EndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	if len(regs) == 0 || len(regs) > MaxRegistersPerWrite {
		return fmt.Errorf("%w: %d", ErrQuantity, len(regs))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		_ = c.handler.Close()
		if err := c.handler.Connect(); err != nil {
			return fmt.Errorf("mirror modbus: reconnect: %w", err)
		}
		c.broken = false
	}

	c.handler.SlaveId = unitID

	if _, err := c.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs)); err != nil {
		c.broken = true
		return fmt.Errorf("mirror modbus: write unit %d @%d x%d: %w", unitID, addr, len(regs), err)
	}
	return nil
}

// packRegisters encodes registers big-endian, as on the wire.
func packRegisters(regs []uint16) []byte {
	out := make([]byte, 2*len(regs))
	for i, r := range regs {
		binary.BigEndian.PutUint16(out[2*i:], r)
	}
	return out
}
