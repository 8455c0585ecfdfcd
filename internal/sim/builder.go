// internal/sim/builder.go
package sim

import (
	"fmt"
	"time"

	cfg "github.com/tamzrod/bt-monitor/internal/config"
	"github.com/tamzrod/bt-monitor/internal/status"
	"github.com/tamzrod/bt-monitor/internal/tree"
)

// Build constructs the tree described by configuration and the matching
// executor config. Config must be validated and normalized.
// The root subtree always gets a blackboard; it receives the pass counters.
func Build(tc cfg.TreeConfig, ec cfg.ExecutorConfig) (*tree.Static, Config, error) {
	var (
		subtrees []*tree.Subtree
		nodes    []Node
		root     *tree.MapBlackboard
	)

	for i, sc := range tc.Subtrees {
		st := &tree.Subtree{
			TreeID:       sc.ID,
			InstanceName: sc.Instance,
		}

		if len(sc.Blackboard) > 0 || i == 0 {
			bb := tree.NewMapBlackboard()
			for k, v := range sc.Blackboard {
				bb.Set(k, v)
			}
			st.Blackboard = bb
			if i == 0 {
				root = bb
			}
		}

		for _, nc := range sc.Nodes {
			st.Nodes = append(st.Nodes, &tree.BasicNode{
				ID:    nc.UID,
				Label: nc.Name,
				Kind:  nc.Kind,
			})

			n := Node{UID: nc.UID, Control: nc.Control, RunningTicks: nc.RunningTicks}
			if !nc.Control {
				res, err := status.ParseNodeStatus(nc.Result)
				if err != nil {
					return nil, Config{}, fmt.Errorf("sim: node %d: %w", nc.UID, err)
				}
				n.Result = res
			}
			nodes = append(nodes, n)
		}

		subtrees = append(subtrees, st)
	}

	t, err := tree.NewStatic(subtrees...)
	if err != nil {
		return nil, Config{}, err
	}

	c := Config{
		Interval: time.Duration(ec.IntervalMs) * time.Millisecond,
		Nodes:    nodes,
	}
	if root != nil {
		c.Blackboard = root
	}
	return t, c, nil
}
