// internal/status/constants.go
package status

import "fmt"

// Status Export Buffer layout constants.
// These values define the protocol and MUST NOT be configurable.

// ---- RECORD GEOMETRY ----

// RecordSize is the fixed size of one node record: uid(2) + status(1).
const RecordSize = 3

// recordStatusOffset is the offset of the status byte inside a record.
const recordStatusOffset = 2

// ---- NODE STATUS ----

// NodeStatus is the execution state of a tree node as exported to clients.
type NodeStatus uint8

// StatusIdle doubles as the "continue" answer of a breakpoint:
// the node runs normally.
const StatusIdle NodeStatus = 0

// StatusRunning marks a node that returned RUNNING.
const StatusRunning NodeStatus = 1

// StatusSuccess marks a node that returned SUCCESS.
const StatusSuccess NodeStatus = 2

// StatusFailure marks a node that returned FAILURE.
const StatusFailure NodeStatus = 3

// StatusSkipped marks a node that was not executed.
const StatusSkipped NodeStatus = 4

// ---- IDLE-FROM CODES ----

// An IDLE transition is exported as idleFromBase + previous status,
// so a reset node still shows its last result.
const idleFromBase = 10

// StatusIdleFromRunning is exported when a RUNNING node was halted.
const StatusIdleFromRunning = NodeStatus(idleFromBase + StatusRunning)

// StatusIdleFromSuccess is exported when a SUCCESS node was reset.
const StatusIdleFromSuccess = NodeStatus(idleFromBase + StatusSuccess)

// StatusIdleFromFailure is exported when a FAILURE node was reset.
const StatusIdleFromFailure = NodeStatus(idleFromBase + StatusFailure)

// ---- TRANSITION LOG ----

// MaxTransitions is the number of transitions kept while recording.
const MaxTransitions = 1000

// TransitionSize is the wire size of one recorded transition:
// timestamp_usec(6) + uid(2) + status(1).
const TransitionSize = 9

func (s NodeStatus) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusRunning:
		return "RUNNING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusSkipped:
		return "SKIPPED"
	case StatusIdleFromRunning:
		return "IDLE_FROM_RUNNING"
	case StatusIdleFromSuccess:
		return "IDLE_FROM_SUCCESS"
	case StatusIdleFromFailure:
		return "IDLE_FROM_FAILURE"
	}
	return fmt.Sprintf("NodeStatus(%d)", uint8(s))
}

// ParseNodeStatus maps a status name to its value.
// Only the five base statuses are accepted.
func ParseNodeStatus(name string) (NodeStatus, error) {
	switch name {
	case "IDLE":
		return StatusIdle, nil
	case "RUNNING":
		return StatusRunning, nil
	case "SUCCESS":
		return StatusSuccess, nil
	case "FAILURE":
		return StatusFailure, nil
	case "SKIPPED":
		return StatusSkipped, nil
	}
	return StatusIdle, fmt.Errorf("status: unknown node status %q", name)
}

// Exported returns the byte stored in the buffer for a transition prev -> next.
func Exported(prev, next NodeStatus) NodeStatus {
	if next == StatusIdle && prev != StatusIdle && prev < idleFromBase {
		return NodeStatus(idleFromBase + prev)
	}
	return next
}
