// internal/mirror/writer.go
//
// Package mirror copies the node status buffer into Modbus holding registers,
// one register per node in build order, so a PLC or SCADA can watch the tree.
package mirror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/bt-monitor/internal/status"
)

// MaxRegistersPerWrite is the FC 16 quantity limit.
const MaxRegistersPerWrite = 123

// Client is the delivery-only contract the writer needs.
type Client interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// Writer delivers status snapshots. Not safe for concurrent use.
type Writer struct {
	cli    Client
	unitID uint8
	base   uint16

	needFull bool
	last     []uint16
}

func NewWriter(cli Client, unitID uint8, base uint16) *Writer {
	return &Writer{
		cli:      cli,
		unitID:   unitID,
		base:     base,
		needFull: true, // full re-assert on first successful write
	}
}

// Write mirrors snap, a status buffer snapshot.
// On any write failure, the next call re-asserts the full block.
func (w *Writer) Write(snap []byte) error {
	if w == nil || w.cli == nil {
		return errors.New("mirror: disabled")
	}

	recs, err := status.DecodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	regs := make([]uint16, len(recs))
	for i, r := range recs {
		regs[i] = uint16(r.Status)
	}

	// ------------------------------------------------------------
	// Full block write (re-assert)
	// ------------------------------------------------------------
	if w.needFull || len(w.last) != len(regs) {
		if err := w.writeBlock(0, regs); err != nil {
			w.needFull = true
			writesTotal.WithLabelValues("full", "error").Inc()
			return fmt.Errorf("mirror: full block write failed: %w", err)
		}
		w.needFull = false
		w.last = regs
		writesTotal.WithLabelValues("full", "ok").Inc()
		return nil
	}

	// ------------------------------------------------------------
	// Incremental: changed runs only
	// ------------------------------------------------------------
	var errs []string
	for _, r := range changedRuns(w.last, regs) {
		if err := w.writeBlock(r.start, regs[r.start:r.end]); err != nil {
			errs = append(errs, fmt.Sprintf("registers %d-%d: %v", int(w.base)+r.start, int(w.base)+r.end-1, err))
			continue
		}
		copy(w.last[r.start:r.end], regs[r.start:r.end])
	}

	if len(errs) > 0 {
		// partial failure => re-assert on next call
		w.needFull = true
		writesTotal.WithLabelValues("incremental", "error").Inc()
		return errors.New("mirror: " + strings.Join(errs, " | "))
	}
	writesTotal.WithLabelValues("incremental", "ok").Inc()
	return nil
}

// writeBlock writes regs starting at node index off, split to the FC 16 limit.
func (w *Writer) writeBlock(off int, regs []uint16) error {
	for len(regs) > 0 {
		n := min(len(regs), MaxRegistersPerWrite)
		if err := w.cli.WriteRegisters(w.unitID, w.base+uint16(off), regs[:n]); err != nil {
			return err
		}
		off += n
		regs = regs[n:]
	}
	return nil
}

type run struct{ start, end int }

// changedRuns returns the maximal index ranges where prev and next differ.
func changedRuns(prev, next []uint16) []run {
	var out []run
	for i := 0; i < len(next); i++ {
		if prev[i] == next[i] {
			continue
		}
		j := i + 1
		for j < len(next) && prev[j] != next[j] {
			j++
		}
		out = append(out, run{start: i, end: j})
		i = j
	}
	return out
}
