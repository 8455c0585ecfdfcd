// internal/status/transitions.go
package status

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// Transition is one recorded status change.
type Transition struct {
	// Offset is the time since recording started.
	Offset time.Duration
	UID    uint16
	Status NodeStatus
}

// Recorder keeps the most recent transitions while recording is on.
// Oldest entries are dropped beyond MaxTransitions.
type Recorder struct {
	mu        sync.Mutex
	recording bool
	start     time.Time
	q         *queue.Queue
}

func NewRecorder() *Recorder {
	return &Recorder{q: queue.New()}
}

// Start clears the log and starts recording relative to now.
func (r *Recorder) Start(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recording = true
	r.start = now
	r.q = queue.New()
}

// Stop stops recording. Already recorded entries stay available.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.recording = false
	r.mu.Unlock()
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Record appends a transition if recording is on.
func (r *Recorder) Record(at time.Time, uid uint16, s NodeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return
	}

	off := at.Sub(r.start)
	if off < 0 {
		off = 0
	}
	r.q.Add(Transition{Offset: off, UID: uid, Status: s})

	for r.q.Length() > MaxTransitions {
		r.q.Remove()
	}
}

// Len returns the number of buffered transitions.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.Length()
}

// Drain returns the buffered transitions encoded for the wire and clears the log.
//
// Layout per transition (9 bytes, little-endian):
//
//	0–5  timestamp_usec (low 48 bits)
//	6–7  node uid
//	8    status
func (r *Recorder) Drain() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.q.Length()
	out := make([]byte, 0, n*TransitionSize)

	var rec [TransitionSize]byte
	var ts [8]byte
	for i := 0; i < n; i++ {
		t := r.q.Remove().(Transition)

		binary.LittleEndian.PutUint64(ts[:], uint64(t.Offset.Microseconds()))
		copy(rec[0:6], ts[0:6])
		binary.LittleEndian.PutUint16(rec[6:8], t.UID)
		rec[8] = byte(t.Status)

		out = append(out, rec[:]...)
	}

	return out
}

// DecodeTransitions parses the output of Drain.
func DecodeTransitions(b []byte) []Transition {
	out := make([]Transition, 0, len(b)/TransitionSize)

	var ts [8]byte
	for off := 0; off+TransitionSize <= len(b); off += TransitionSize {
		copy(ts[0:6], b[off:off+6])
		out = append(out, Transition{
			Offset: time.Duration(binary.LittleEndian.Uint64(ts[:])) * time.Microsecond,
			UID:    binary.LittleEndian.Uint16(b[off+6 : off+8]),
			Status: NodeStatus(b[off+8]),
		})
	}
	return out
}
