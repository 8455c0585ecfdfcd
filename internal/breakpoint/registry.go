package breakpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/tamzrod/bt-monitor/internal/status"
)

// resolution is what a parked execution goroutine receives.
type resolution struct {
	status status.NodeStatus
	remove bool
}

// continueExecution resolves a parked hook without forcing a status.
var continueExecution = resolution{status: status.StatusIdle}

type entry struct {
	mu   sync.Mutex
	hook Hook

	// parked is non-nil while the execution goroutine waits on this hook.
	// Whoever sends on it clears it under mu. Capacity 1, so sending never blocks.
	parked chan resolution

	// removed is set under mu once the entry left the map.
	// An execution goroutine that looked it up earlier must not park on it.
	removed bool
}

// release hands res to a parked goroutine, if any. Caller holds e.mu.
func (e *entry) release(res resolution) bool {
	if e.parked == nil {
		return false
	}
	e.parked <- res
	e.parked = nil
	return true
}

// Option configures a Registry.
type Option func(*Registry)

// WithReachedFunc registers fn to be called, outside any lock,
// whenever execution reaches an enabled hook.
func WithReachedFunc(fn func(Event)) Option {
	return func(r *Registry) { r.onReached = fn }
}

// WithDroppedFunc registers fn to be called, outside any lock,
// when the execution side removes a used-up once hook.
func WithDroppedFunc(fn func(Event)) Option {
	return func(r *Registry) { r.onDropped = fn }
}

// Registry is the set of hooks of one tree.
//
// The execution side calls OnNodeHit; the network side calls everything else.
// Only one ticking goroutine may hit a given hook at a time.
type Registry struct {
	nodes map[uint16]struct{}

	mu    sync.Mutex
	hooks map[key]*entry

	onReached func(Event)
	onDropped func(Event)
}

// NewRegistry creates an empty registry for the given node uids.
// Hooks can only be placed on those nodes.
func NewRegistry(uids []uint16, opts ...Option) *Registry {
	r := &Registry{
		nodes: make(map[uint16]struct{}, len(uids)),
		hooks: make(map[key]*entry),
	}
	for _, uid := range uids {
		r.nodes[uid] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert adds h. An existing hook on the same key is never overwritten.
func (r *Registry) Insert(h Hook) error {
	if _, ok := r.nodes[h.NodeUID]; !ok {
		return ErrUnknownNode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := h.key()
	if _, exists := r.hooks[k]; exists {
		return ErrExists
	}
	r.hooks[k] = &entry{hook: h}
	return nil
}

// OnNodeHit is called by the execution goroutine right before (Pre) or
// after (Post) a node ticks.
//
// It returns StatusIdle when execution should simply continue, otherwise
// the status the debugger forces on the node. For an interactive hook it
// blocks until the hook is unlocked, removed, disabled, or ctx is done.
func (r *Registry) OnNodeHit(ctx context.Context, pos Position, uid uint16) status.NodeStatus {
	k := key{pos: pos, uid: uid}
	e := r.lookup(k)
	if e == nil {
		return status.StatusIdle
	}
	return r.hit(ctx, k, e)
}

// hit runs the hook e found under k. The map lock is no longer held, so e
// may have been removed in between.
func (r *Registry) hit(ctx context.Context, k key, e *entry) status.NodeStatus {
	pos, uid := k.pos, k.uid

	e.mu.Lock()
	if e.removed || !e.hook.Enabled {
		e.mu.Unlock()
		return status.StatusIdle
	}

	ev := Event{Position: pos, NodeUID: uid, Interactive: e.hook.Interactive}

	if !e.hook.Interactive {
		res := resolution{status: e.hook.DesiredStatus, remove: e.hook.Once}
		e.mu.Unlock()

		r.reached(ev)
		if res.remove {
			r.drop(k, e, ev)
		}
		return res.status
	}

	ch := make(chan resolution, 1)
	e.parked = ch
	e.mu.Unlock()

	r.reached(ev)

	var res resolution
	select {
	case res = <-ch:
	case <-ctx.Done():
		e.mu.Lock()
		if e.parked == ch {
			e.parked = nil
			e.mu.Unlock()
			return status.StatusIdle
		}
		e.mu.Unlock()
		// resolved concurrently: the value is already buffered
		res = <-ch
	}

	if res.remove {
		r.drop(k, e, ev)
	}
	return res.status
}

// Unlock resolves the execution goroutine parked on an interactive hook.
// A hook nobody is waiting on reports ErrNotWaiting and is left untouched.
// An early unlock is never armed for the next hit, so a client must wait
// for the reached notification before unlocking. Publishers that arm the
// hook instead let that next hit pass straight through.
func (r *Registry) Unlock(pos Position, uid uint16, s status.NodeStatus, remove bool) error {
	e := r.lookup(key{pos: pos, uid: uid})
	if e == nil {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hook.Interactive {
		return ErrNotInteractive
	}
	if e.parked == nil {
		return ErrNotWaiting
	}

	e.hook.DesiredStatus = s
	e.hook.Once = e.hook.Once || remove
	e.release(resolution{status: s, remove: e.hook.Once})
	return nil
}

// Remove erases a hook and releases any goroutine parked on it.
func (r *Registry) Remove(pos Position, uid uint16) error {
	k := key{pos: pos, uid: uid}

	r.mu.Lock()
	e, ok := r.hooks[k]
	delete(r.hooks, k)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	e.removed = true
	e.release(continueExecution)
	e.mu.Unlock()
	return nil
}

// RemoveAll erases every hook, releasing parked goroutines.
// It returns the number of hooks removed.
func (r *Registry) RemoveAll() int {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.hooks))
	for _, e := range r.hooks {
		entries = append(entries, e)
	}
	r.hooks = make(map[key]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.removed = true
		e.release(continueExecution)
		e.mu.Unlock()
	}
	return len(entries)
}

// EnableAll flips Enabled on every hook. Disabling releases parked goroutines.
func (r *Registry) EnableAll(enable bool) {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.hooks))
	for _, e := range r.hooks {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.hook.Enabled = enable
		if !enable {
			e.release(continueExecution)
		}
		e.mu.Unlock()
	}
}

// Get returns a copy of the hook at (pos, uid).
func (r *Registry) Get(pos Position, uid uint16) (Hook, bool) {
	e := r.lookup(key{pos: pos, uid: uid})
	if e == nil {
		return Hook{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hook, true
}

// Parked reports whether an execution goroutine is waiting on (pos, uid).
func (r *Registry) Parked(pos Position, uid uint16) bool {
	e := r.lookup(key{pos: pos, uid: uid})
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parked != nil
}

// Len returns the number of hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Dump returns copies of all hooks ordered by position, then uid.
func (r *Registry) Dump() []Hook {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.hooks))
	for _, e := range r.hooks {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]Hook, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.hook)
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].NodeUID < out[j].NodeUID
	})
	return out
}

func (r *Registry) lookup(k key) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hooks[k]
}

// drop removes e only if it is still the hook registered under k.
func (r *Registry) drop(k key, e *entry, ev Event) {
	r.mu.Lock()
	dropped := r.hooks[k] == e
	if dropped {
		delete(r.hooks, k)
	}
	r.mu.Unlock()

	if !dropped {
		return
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	if r.onDropped != nil {
		r.onDropped(ev)
	}
}

func (r *Registry) reached(ev Event) {
	if r.onReached != nil {
		r.onReached(ev)
	}
}
