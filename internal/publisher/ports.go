// internal/publisher/ports.go
package publisher

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPortInUse is returned when another live server holds the port
// or its reserved neighbour.
var ErrPortInUse = errors.New("publisher: port already in use")

// PortRegistry tracks the ports held by live servers.
// Whoever composes servers owns one registry and hands it to each of them.
type PortRegistry struct {
	mu   sync.Mutex
	used map[int]struct{}
}

func NewPortRegistry() *PortRegistry {
	return &PortRegistry{used: make(map[int]struct{})}
}

// Claim reserves port and port+1 together, or neither.
func (r *PortRegistry) Claim(port int) error {
	if port <= 0 || port+1 > 65535 {
		return fmt.Errorf("publisher: invalid port %d", port)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range []int{port, port + 1} {
		if _, taken := r.used[p]; taken {
			return fmt.Errorf("%w: another publisher is using port %d", ErrPortInUse, p)
		}
	}
	r.used[port] = struct{}{}
	r.used[port+1] = struct{}{}
	return nil
}

// Release frees port and port+1.
func (r *PortRegistry) Release(port int) {
	r.mu.Lock()
	delete(r.used, port)
	delete(r.used, port+1)
	r.mu.Unlock()
}

// InUse reports whether port is held.
func (r *PortRegistry) InUse(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.used[port]
	return ok
}
