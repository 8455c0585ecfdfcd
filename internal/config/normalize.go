// internal/config/normalize.go
package config

const (
	DefaultHeartbeatMs   = 5000
	DefaultSendTimeoutMs = 1000
	DefaultIntervalMs    = 500
	DefaultResult        = "SUCCESS"

	DefaultMirrorTimeoutMs  = 1000
	DefaultMirrorIntervalMs = 1000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ------------------------------------------------------------
	// PUBLISHER
	// ------------------------------------------------------------

	p := &cfg.Publisher
	if p.HeartbeatMs == nil {
		hb := DefaultHeartbeatMs
		p.HeartbeatMs = &hb
	}
	if p.SendTimeoutMs == 0 {
		p.SendTimeoutMs = DefaultSendTimeoutMs
	}
	if p.Notify == nil {
		on := true
		p.Notify = &on
	}

	// ------------------------------------------------------------
	// TREE
	// ------------------------------------------------------------

	for si := range cfg.Tree.Subtrees {
		st := &cfg.Tree.Subtrees[si]
		for ni := range st.Nodes {
			n := &st.Nodes[ni]
			if n.Control || n.Result != "" {
				continue
			}
			n.Result = DefaultResult
		}
	}

	if cfg.Executor.IntervalMs == 0 {
		cfg.Executor.IntervalMs = DefaultIntervalMs
	}

	// ------------------------------------------------------------
	// MIRROR (OPT-IN)
	// ------------------------------------------------------------

	if m := cfg.Mirror; m != nil {
		if m.TimeoutMs == 0 {
			m.TimeoutMs = DefaultMirrorTimeoutMs
		}
		if m.IntervalMs == 0 {
			m.IntervalMs = DefaultMirrorIntervalMs
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
