// internal/config/validate.go
package config

import (
	"fmt"
	"net"
)

var (
	validResults = map[string]bool{"SUCCESS": true, "FAILURE": true, "SKIPPED": true}
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}

	// ------------------------------------------------------------
	// PUBLISHER
	// ------------------------------------------------------------

	p := cfg.Publisher
	// port+1 must be a valid port as well
	if p.Port <= 0 || p.Port >= 65535 {
		return fmt.Errorf("publisher: port must be in 1..65534, got %d", p.Port)
	}
	if p.HeartbeatMs != nil && *p.HeartbeatMs < 0 {
		return fmt.Errorf("publisher: heartbeat_ms must be >= 0")
	}
	if p.SendTimeoutMs < 0 {
		return fmt.Errorf("publisher: send_timeout_ms must be >= 0")
	}

	// ------------------------------------------------------------
	// TREE
	// ------------------------------------------------------------

	if len(cfg.Tree.Subtrees) == 0 {
		return fmt.Errorf("tree: at least one subtree required")
	}

	names := make(map[string]bool)
	uids := make(map[uint16]string)
	actions := 0

	for i, st := range cfg.Tree.Subtrees {
		if st.ID == "" {
			return fmt.Errorf("tree: subtree %d: id required", i)
		}
		name := st.ID
		if st.Instance != "" {
			name = st.Instance
		}
		if names[name] {
			return fmt.Errorf("tree: duplicate subtree name %q", name)
		}
		names[name] = true

		for _, n := range st.Nodes {
			if prev, exists := uids[n.UID]; exists {
				return fmt.Errorf(
					"tree: node uid %d used in subtree %q and %q",
					n.UID,
					prev,
					name,
				)
			}
			uids[n.UID] = name

			if n.Control {
				if n.Result != "" || n.RunningTicks != 0 {
					return fmt.Errorf(
						"tree: control node %d cannot set result or running_ticks",
						n.UID,
					)
				}
				continue
			}

			actions++
			if n.Result != "" && !validResults[n.Result] {
				return fmt.Errorf(
					"tree: node %d: result must be SUCCESS, FAILURE or SKIPPED, got %q",
					n.UID,
					n.Result,
				)
			}
			if n.RunningTicks < 0 {
				return fmt.Errorf("tree: node %d: running_ticks must be >= 0", n.UID)
			}
		}
	}

	if actions == 0 {
		return fmt.Errorf("tree: at least one action node required")
	}

	if cfg.Executor.IntervalMs < 0 {
		return fmt.Errorf("executor: interval_ms must be >= 0")
	}

	// ------------------------------------------------------------
	// MIRROR (OPT-IN)
	// ------------------------------------------------------------

	if m := cfg.Mirror; m != nil {
		if _, _, err := net.SplitHostPort(m.Endpoint); err != nil {
			return fmt.Errorf("mirror: endpoint must be host:port: %w", err)
		}
		if m.TimeoutMs < 0 || m.IntervalMs < 0 {
			return fmt.Errorf("mirror: timeout_ms and interval_ms must be >= 0")
		}

		// one register per node, inclusive end
		end := int(m.Address) + cfg.Tree.NodeCount() - 1
		if end > 0xFFFF {
			return fmt.Errorf(
				"mirror: register block %d-%d exceeds the address space",
				m.Address,
				end,
			)
		}
	}

	// ------------------------------------------------------------
	// METRICS / LOG
	// ------------------------------------------------------------

	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics: listen must be host:port: %w", err)
		}
	}
	if cfg.Log.Level != "" && !validLevels[cfg.Log.Level] {
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "" && !validFormats[cfg.Log.Format] {
		return fmt.Errorf("log: unknown format %q", cfg.Log.Format)
	}

	return nil
}
