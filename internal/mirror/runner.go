// internal/mirror/runner.go
package mirror

import (
	"context"
	"log/slog"
	"time"

	cfg "github.com/tamzrod/bt-monitor/internal/config"
)

// Source provides status snapshots.
type Source interface {
	Snapshot() []byte
}

// Run mirrors src every interval until ctx is done.
// Writes once immediately so the block is asserted on start.
// Errors are logged, never fatal.
func Run(ctx context.Context, w *Writer, src Source, interval time.Duration, log *slog.Logger) {
	write := func() {
		if err := w.Write(src.Snapshot()); err != nil {
			log.Warn("status mirror write failed", "error", err)
		}
	}

	write()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			write()
		}
	}
}

// Build connects the Modbus endpoint and returns the writer and its closer.
// The first connection is made here (fail fast at startup).
func Build(m cfg.MirrorConfig) (*Writer, func() error, error) {
	cli, err := NewEndpointClient(EndpointConfig{
		Endpoint: m.Endpoint,
		Timeout:  time.Duration(m.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}
	return NewWriter(cli, m.UnitID, m.Address), cli.Close, nil
}
