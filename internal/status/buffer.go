// internal/status/buffer.go
package status

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Buffer is the Status Export Buffer.
// One fixed-size record per node, in build order.
// Written by the execution side, copied by the network side.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	index map[uint16]int // uid -> record index
}

// NewBuffer lays out one record per uid, all IDLE.
// The layout is fixed for the lifetime of the buffer.
func NewBuffer(uids []uint16) (*Buffer, error) {
	b := &Buffer{
		data:  make([]byte, RecordSize*len(uids)),
		index: make(map[uint16]int, len(uids)),
	}

	for i, uid := range uids {
		if _, dup := b.index[uid]; dup {
			return nil, fmt.Errorf("status: duplicate node uid %d", uid)
		}
		off := i * RecordSize
		binary.LittleEndian.PutUint16(b.data[off:off+2], uid)
		b.data[off+recordStatusOffset] = byte(StatusIdle)
		b.index[uid] = i
	}

	return b, nil
}

// Len returns the number of node records.
func (b *Buffer) Len() int {
	return len(b.index)
}

// Has reports whether uid has a record.
func (b *Buffer) Has(uid uint16) bool {
	_, ok := b.index[uid]
	return ok
}

// Update stores the exported status of uid.
// An unknown uid is an integration bug: see unknownNode.
func (b *Buffer) Update(uid uint16, s NodeStatus) bool {
	i, ok := b.index[uid]
	if !ok {
		unknownNode(uid)
		return false
	}

	b.mu.Lock()
	b.data[i*RecordSize+recordStatusOffset] = byte(s)
	b.mu.Unlock()
	return true
}

// Get returns the current status of uid.
func (b *Buffer) Get(uid uint16) (NodeStatus, bool) {
	i, ok := b.index[uid]
	if !ok {
		return StatusIdle, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return NodeStatus(b.data[i*RecordSize+recordStatusOffset]), true
}

// Snapshot copies the whole buffer.
// The copy holds at least every update completed before the call.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Record is one decoded entry of a snapshot.
type Record struct {
	UID    uint16
	Status NodeStatus
}

// DecodeSnapshot splits a snapshot into records.
func DecodeSnapshot(snap []byte) ([]Record, error) {
	if len(snap)%RecordSize != 0 {
		return nil, fmt.Errorf("status: snapshot length %d is not a multiple of %d", len(snap), RecordSize)
	}

	out := make([]Record, 0, len(snap)/RecordSize)
	for off := 0; off < len(snap); off += RecordSize {
		out = append(out, Record{
			UID:    binary.LittleEndian.Uint16(snap[off : off+2]),
			Status: NodeStatus(snap[off+recordStatusOffset]),
		})
	}
	return out, nil
}
