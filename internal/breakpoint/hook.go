// Package breakpoint holds the hooks a remote debugger places on tree nodes
// and parks the execution goroutine on interactive ones until released.
package breakpoint

import (
	"errors"
	"fmt"

	"github.com/tamzrod/bt-monitor/internal/status"
)

// Position says whether a hook runs before or after the node ticks.
type Position uint8

const (
	Pre  Position = 0
	Post Position = 1
)

func (p Position) String() string {
	switch p {
	case Pre:
		return "pre"
	case Post:
		return "post"
	}
	return fmt.Sprintf("Position(%d)", uint8(p))
}

// ParsePosition validates a wire position.
func ParsePosition(v int) (Position, error) {
	switch v {
	case int(Pre):
		return Pre, nil
	case int(Post):
		return Post, nil
	}
	return Pre, fmt.Errorf("breakpoint: invalid position %d", v)
}

var (
	ErrExists         = errors.New("breakpoint: hook already exists")
	ErrNotFound       = errors.New("breakpoint: hook not found")
	ErrUnknownNode    = errors.New("breakpoint: unknown node")
	ErrNotInteractive = errors.New("breakpoint: hook is not interactive")
	ErrNotWaiting     = errors.New("breakpoint: no execution waiting on hook")
)

// Hook is a pause point on one node.
// At most one hook exists per (Position, NodeUID).
type Hook struct {
	Position Position
	NodeUID  uint16
	Enabled  bool

	// Interactive hooks block execution until unlocked.
	// Others resolve to DesiredStatus immediately.
	Interactive bool

	// Once removes the hook after it has been consumed.
	Once bool

	DesiredStatus status.NodeStatus
}

type key struct {
	pos Position
	uid uint16
}

func (h Hook) key() key {
	return key{pos: h.Position, uid: h.NodeUID}
}

// Event is emitted each time execution reaches an enabled hook.
type Event struct {
	Position    Position
	NodeUID     uint16
	Interactive bool
}
