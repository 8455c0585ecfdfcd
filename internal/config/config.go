// internal/config/config.go
package config

type Config struct {
	Publisher PublisherConfig `yaml:"publisher"`
	Tree      TreeConfig      `yaml:"tree"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Mirror    *MirrorConfig   `yaml:"mirror"` // optional
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ---- PUBLISHER ----

type PublisherConfig struct {
	Port int `yaml:"port"` // port+1 is reserved for notifications

	// nil => default; 0 => heartbeat check off
	HeartbeatMs   *int `yaml:"heartbeat_ms"`
	SendTimeoutMs int  `yaml:"send_timeout_ms"`

	// nil => true
	Notify *bool `yaml:"notify"`
}

// ---- TREE ----

type TreeConfig struct {
	Subtrees []SubtreeConfig `yaml:"subtrees"`
}

type SubtreeConfig struct {
	ID         string         `yaml:"id"`
	Instance   string         `yaml:"instance"` // empty for the root tree
	Nodes      []NodeConfig   `yaml:"nodes"`
	Blackboard map[string]any `yaml:"blackboard"`
}

type NodeConfig struct {
	UID  uint16 `yaml:"uid"`
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// Control nodes span the whole pass and take its result.
	Control bool `yaml:"control"`

	// Action nodes only.
	Result       string `yaml:"result"`        // SUCCESS | FAILURE | SKIPPED
	RunningTicks int    `yaml:"running_ticks"` // ticks spent RUNNING before Result
}

// ---- EXECUTOR ----

type ExecutorConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// ---- MIRROR (OPT-IN) ----

// MirrorConfig mirrors one holding register per node to a Modbus TCP server.
type MirrorConfig struct {
	Endpoint   string `yaml:"endpoint"`
	UnitID     uint8  `yaml:"unit_id"`
	Address    uint16 `yaml:"address"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	IntervalMs int    `yaml:"interval_ms"`
}

// ---- METRICS ----

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty => disabled
}

// ---- LOG ----

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// NodeCount is the number of nodes across all subtrees.
func (c TreeConfig) NodeCount() int {
	n := 0
	for _, st := range c.Subtrees {
		n += len(st.Nodes)
	}
	return n
}
