// internal/config/load_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
publisher:
  port: 1667
  heartbeat_ms: 0
tree:
  subtrees:
    - id: MainTree
      nodes:
        - {uid: 1, name: root, kind: Sequence, control: true}
        - {uid: 2, name: approach, kind: Action, running_ticks: 2}
        - {uid: 3, name: grasp, kind: Action, result: FAILURE}
      blackboard:
        goal: dock
        retries: 3
mirror:
  endpoint: 127.0.0.1:5020
  unit_id: 1
  address: 100
metrics:
  listen: 127.0.0.1:9108
`

func TestLoad_ValidateNormalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	Normalize(cfg)

	if cfg.Publisher.Port != 1667 {
		t.Fatalf("port=%d", cfg.Publisher.Port)
	}
	// explicit 0 disables the heartbeat and survives Normalize
	if cfg.Publisher.HeartbeatMs == nil || *cfg.Publisher.HeartbeatMs != 0 {
		t.Fatalf("heartbeat_ms=%v", cfg.Publisher.HeartbeatMs)
	}
	if cfg.Publisher.Notify == nil || !*cfg.Publisher.Notify {
		t.Fatalf("notify should default to true")
	}

	nodes := cfg.Tree.Subtrees[0].Nodes
	if nodes[0].Result != "" {
		t.Fatalf("control node got result %q", nodes[0].Result)
	}
	if nodes[1].Result != DefaultResult || nodes[1].RunningTicks != 2 {
		t.Fatalf("node 2: %+v", nodes[1])
	}
	if nodes[2].Result != "FAILURE" {
		t.Fatalf("node 3: %+v", nodes[2])
	}
	if cfg.Tree.Subtrees[0].Blackboard["goal"] != "dock" {
		t.Fatalf("blackboard: %v", cfg.Tree.Subtrees[0].Blackboard)
	}

	if cfg.Executor.IntervalMs != DefaultIntervalMs {
		t.Fatalf("interval_ms=%d", cfg.Executor.IntervalMs)
	}
	if cfg.Mirror == nil || cfg.Mirror.IntervalMs != DefaultMirrorIntervalMs || cfg.Mirror.TimeoutMs != DefaultMirrorTimeoutMs {
		t.Fatalf("mirror: %+v", cfg.Mirror)
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Fatalf("log: %+v", cfg.Log)
	}
}

func TestParse_UnknownField(t *testing.T) {
	if _, err := Parse([]byte("publisher:\n  prot: 1667\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNormalize_DefaultHeartbeat(t *testing.T) {
	cfg := valid()
	Normalize(cfg)
	if *cfg.Publisher.HeartbeatMs != DefaultHeartbeatMs {
		t.Fatalf("heartbeat_ms=%d", *cfg.Publisher.HeartbeatMs)
	}
	if cfg.Publisher.SendTimeoutMs != DefaultSendTimeoutMs {
		t.Fatalf("send_timeout_ms=%d", cfg.Publisher.SendTimeoutMs)
	}

	Normalize(nil)
}
