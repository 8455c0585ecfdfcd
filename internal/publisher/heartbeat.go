// internal/publisher/heartbeat.go
package publisher

import (
	"context"
	"time"
)

// heartbeatPoll bounds how often the heartbeat is checked.
const heartbeatPoll = 100 * time.Millisecond

// watchHeartbeat disables every hook once no request has arrived for
// cfg.Heartbeat, and enables them again when requests resume.
// A debugger that went away must never leave the tree parked.
func (s *Server) watchHeartbeat(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.Heartbeat / 10
	if interval <= 0 || interval > heartbeatPoll {
		interval = heartbeatPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	alive := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive = s.checkHeartbeat(alive)
		}
	}
}

// checkHeartbeat compares the last request time with the heartbeat window
// and flips the hooks when the state changes. It returns the new state.
func (s *Server) checkHeartbeat(alive bool) bool {
	silence := s.now().Sub(time.Unix(0, s.lastRequest.Load()))
	current := silence < s.cfg.Heartbeat
	if current == alive {
		return alive
	}

	s.hooks.EnableAll(current)
	if current {
		heartbeatAlive.WithLabelValues(s.label).Set(1)
		s.log.Info("debugger heartbeat resumed, hooks enabled")
	} else {
		heartbeatAlive.WithLabelValues(s.label).Set(0)
		s.log.Warn("debugger heartbeat lost, hooks disabled", "silence", silence.String())
	}
	return current
}
