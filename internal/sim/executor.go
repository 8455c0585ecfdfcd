// internal/sim/executor.go
//
// Package sim is a small clock-driven tree executor.
// It stands in for a real engine and drives the monitor's engine surface.
package sim

import (
	"context"
	"errors"
	"time"

	"github.com/tamzrod/bt-monitor/internal/status"
)

// Engine is the monitor surface the executor reports to.
type Engine interface {
	OnStatusChange(at time.Time, uid uint16, prev, next status.NodeStatus)
	PreTick(ctx context.Context, uid uint16) status.NodeStatus
	PostTick(ctx context.Context, uid uint16) status.NodeStatus
}

// Node is one simulated node.
type Node struct {
	UID uint16

	// Control nodes span the whole pass and take its result.
	Control bool

	// Result is what an action returns once RunningTicks are spent.
	Result       status.NodeStatus
	RunningTicks int
}

// Config is the minimal runtime config the executor needs.
type Config struct {
	Interval time.Duration
	Nodes    []Node

	// Blackboard, if set, receives pass counters.
	Blackboard Setter
}

// Setter is the writable side of a blackboard.
type Setter interface {
	Set(key string, v any)
}

// Cycle is the outcome of one tick.
type Cycle struct {
	At time.Time

	// Status is RUNNING while a pass is in progress, otherwise the pass result.
	Status status.NodeStatus

	// Ticked is the number of actions ticked in this cycle.
	Ticked int
	Pass   int
}

// Executor runs the configured nodes as one sequence.
// An action returning RUNNING suspends the pass; the next tick resumes it.
// A FAILURE ends the pass. Every finished pass resets all nodes to IDLE.
type Executor struct {
	cfg    Config
	engine Engine
	now    func() time.Time

	controls []Node
	actions  []Node

	state   map[uint16]status.NodeStatus
	pending map[uint16]int

	inPass bool
	cursor int
	passes int
}

// New creates an executor with immutable config.
func New(cfg Config, engine Engine) (*Executor, error) {
	if engine == nil {
		return nil, errors.New("sim: engine required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("sim: interval must be > 0")
	}

	e := &Executor{
		cfg:     cfg,
		engine:  engine,
		now:     time.Now,
		state:   make(map[uint16]status.NodeStatus, len(cfg.Nodes)),
		pending: make(map[uint16]int),
	}
	for _, n := range cfg.Nodes {
		if n.Control {
			e.controls = append(e.controls, n)
		} else {
			e.actions = append(e.actions, n)
		}
		e.state[n.UID] = status.StatusIdle
	}
	if len(e.actions) == 0 {
		return nil, errors.New("sim: at least one action node required")
	}
	return e, nil
}

// TickOnce performs exactly one tick.
func (e *Executor) TickOnce(ctx context.Context) Cycle {
	cycle := Cycle{At: e.now(), Status: status.StatusRunning}

	if !e.inPass {
		e.inPass = true
		e.cursor = 0

		for _, n := range e.controls {
			if forced := e.engine.PreTick(ctx, n.UID); forced != status.StatusIdle {
				return e.finish(ctx, cycle, forced)
			}
			e.set(n.UID, status.StatusRunning)
		}
	}

	for e.cursor < len(e.actions) {
		if ctx.Err() != nil {
			return cycle
		}

		res := e.tickAction(ctx, e.actions[e.cursor])
		cycle.Ticked++

		switch res {
		case status.StatusRunning:
			return cycle
		case status.StatusFailure:
			return e.finish(ctx, cycle, status.StatusFailure)
		}
		e.cursor++
	}

	return e.finish(ctx, cycle, status.StatusSuccess)
}

func (e *Executor) tickAction(ctx context.Context, n Node) status.NodeStatus {
	result := e.engine.PreTick(ctx, n.UID)

	if result == status.StatusIdle {
		if e.state[n.UID] != status.StatusRunning {
			e.pending[n.UID] = n.RunningTicks
			e.set(n.UID, status.StatusRunning)
		}
		if e.pending[n.UID] > 0 {
			e.pending[n.UID]--
			return status.StatusRunning
		}
		result = n.Result
	}

	if forced := e.engine.PostTick(ctx, n.UID); forced != status.StatusIdle {
		result = forced
	}
	e.set(n.UID, result)
	return result
}

// finish closes the pass with result, outermost control node last,
// then resets every node to IDLE.
func (e *Executor) finish(ctx context.Context, cycle Cycle, result status.NodeStatus) Cycle {
	for i := len(e.controls) - 1; i >= 0; i-- {
		uid := e.controls[i].UID
		if forced := e.engine.PostTick(ctx, uid); forced != status.StatusIdle {
			result = forced
		}
		e.set(uid, result)
	}

	for _, n := range e.cfg.Nodes {
		e.set(n.UID, status.StatusIdle)
	}
	clear(e.pending)

	e.inPass = false
	e.passes++

	if bb := e.cfg.Blackboard; bb != nil {
		bb.Set("sim.passes", e.passes)
		bb.Set("sim.last_result", result.String())
	}

	cycle.Status = result
	cycle.Pass = e.passes
	return cycle
}

// set reports a status change to the engine. Unchanged statuses are not reported.
func (e *Executor) set(uid uint16, next status.NodeStatus) {
	prev := e.state[uid]
	if prev == next {
		return
	}
	e.state[uid] = next
	e.engine.OnStatusChange(e.now(), uid, prev, next)
}

// Passes is the number of finished passes.
func (e *Executor) Passes() int { return e.passes }
