// internal/publisher/dispatch.go
package publisher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tamzrod/bt-monitor/internal/breakpoint"
	btlog "github.com/tamzrod/bt-monitor/internal/log"
	"github.com/tamzrod/bt-monitor/internal/protocol"
	"github.com/tamzrod/bt-monitor/internal/status"
)

// requestError is answered with an "error" reply carrying msg.
type requestError struct {
	reason string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func reject(reason, msg string) error {
	return &requestError{reason: reason, msg: msg}
}

var errTwoParts = reject("two_parts", protocol.MsgTwoParts)

// handle turns one request into exactly one reply.
func (s *Server) handle(frames [][]byte) [][]byte {
	if len(frames) == 0 {
		return s.fail(reject("wrong_header", protocol.MsgWrongHeader))
	}
	req, err := protocol.ParseRequestHeader(frames[0])
	if err != nil {
		return s.fail(reject("wrong_header", protocol.MsgWrongHeader))
	}
	requestsTotal.WithLabelValues(s.label, req.Kind.String()).Inc()

	payload, err := s.dispatch(req.Kind, frames)
	if err != nil {
		s.log.Debug("request failed", "kind", req.Kind.String(), "error", err)
		return s.fail(err)
	}

	hdr := protocol.EncodeReplyHeader(protocol.ReplyHeader{Request: req, TreeID: s.treeID})
	return append([][]byte{hdr[:]}, payload...)
}

// fail builds an error reply and counts it.
func (s *Server) fail(err error) [][]byte {
	var re *requestError
	if !errors.As(err, &re) {
		re = &requestError{reason: "operation", msg: err.Error()}
	}
	errorRepliesTotal.WithLabelValues(s.label, re.reason).Inc()
	return protocol.ErrorReply(re.msg)
}

// dispatch returns the frames following the reply header.
func (s *Server) dispatch(kind protocol.Kind, frames [][]byte) ([][]byte, error) {
	switch kind {
	case protocol.KindFullTree:
		return [][]byte{[]byte(s.xml)}, nil

	case protocol.KindStatus:
		return [][]byte{s.buffer.Snapshot()}, nil

	case protocol.KindBlackboard:
		body, err := bodyOf(frames)
		if err != nil {
			return nil, err
		}
		return s.blackboard(body)

	case protocol.KindHookInsert:
		body, err := bodyOf(frames)
		if err != nil {
			return nil, err
		}
		return nil, s.insertHooks(body)

	case protocol.KindHookRemove:
		body, err := bodyOf(frames)
		if err != nil {
			return nil, err
		}
		return nil, s.removeHook(body)

	case protocol.KindBreakpointUnlock:
		body, err := bodyOf(frames)
		if err != nil {
			return nil, err
		}
		return nil, s.unlock(body)

	case protocol.KindHooksDump:
		return s.dumpHooks()

	case protocol.KindRemoveAllHooks:
		n := s.hooks.RemoveAll()
		s.syncHookGauge()
		s.log.Info("all hooks removed", "count", n)
		return nil, nil

	case protocol.KindDisableAllHooks:
		s.hooks.EnableAll(false)
		s.log.Info("all hooks disabled")
		return nil, nil

	case protocol.KindToggleRecording:
		body, err := bodyOf(frames)
		if err != nil {
			return nil, err
		}
		return s.toggleRecording(body)

	case protocol.KindGetTransitions:
		return [][]byte{s.recorder.Drain()}, nil
	}

	return nil, reject("not_recognized", protocol.MsgNotRecognized)
}

// bodyOf returns the second frame of a body-carrying request.
func bodyOf(frames [][]byte) ([]byte, error) {
	if len(frames) != 2 {
		return nil, errTwoParts
	}
	return frames[1], nil
}

// ---- Handlers ----

func (s *Server) blackboard(body []byte) ([][]byte, error) {
	names := protocol.SplitBlackboardNames(body)
	payload, skipped, err := s.dumper.Dump(names)
	if err != nil {
		return nil, fmt.Errorf("blackboard: %w", err)
	}
	if len(skipped) > 0 {
		blackboardSkipped.WithLabelValues(s.label).Add(float64(len(skipped)))
		s.log.Debug("blackboard names omitted", "names", strings.Join(skipped, protocol.BlackboardSeparator))
	}
	return [][]byte{payload}, nil
}

func (s *Server) insertHooks(body []byte) error {
	descs, err := protocol.ParseHookDescriptors(body)
	if err != nil {
		return reject("bad_body", err.Error())
	}

	// validate everything before touching the registry
	hooks := make([]breakpoint.Hook, 0, len(descs))
	for _, d := range descs {
		h, err := hookFromDescriptor(d)
		if err != nil {
			return reject("bad_body", err.Error())
		}
		hooks = append(hooks, h)
	}

	var errs []error
	for _, h := range hooks {
		if err := s.hooks.Insert(h); err != nil {
			errs = append(errs, fmt.Errorf("%s hook on %d: %w", h.Position, h.NodeUID, err))
			continue
		}
		s.log.Info("hook inserted",
			btlog.UIDKey, h.NodeUID,
			"position", h.Position.String(),
			"interactive", h.Interactive,
			"once", h.Once,
			"enabled", h.Enabled,
		)
	}
	s.syncHookGauge()
	return registryError(errors.Join(errs...))
}

func (s *Server) removeHook(body []byte) error {
	req, err := protocol.ParseRemoveRequest(body)
	if err != nil {
		return reject("bad_body", err.Error())
	}
	pos, err := breakpoint.ParsePosition(req.Position)
	if err != nil {
		return reject("bad_body", err.Error())
	}
	if err := s.hooks.Remove(pos, req.UID); err != nil {
		return registryError(err)
	}
	s.syncHookGauge()
	s.log.Info("hook removed", btlog.UIDKey, req.UID, "position", pos.String())
	return nil
}

func (s *Server) unlock(body []byte) error {
	req, err := protocol.ParseUnlockRequest(body)
	if err != nil {
		return reject("bad_body", err.Error())
	}
	pos, err := breakpoint.ParsePosition(req.Position)
	if err != nil {
		return reject("bad_body", err.Error())
	}
	desired, err := desiredStatus(req.DesiredStatus)
	if err != nil {
		return reject("bad_body", err.Error())
	}
	if err := s.hooks.Unlock(pos, req.UID, desired, req.RemoveWhenDone); err != nil {
		return registryError(err)
	}
	if req.RemoveWhenDone {
		s.syncHookGauge()
	}
	s.log.Info("breakpoint unlocked", btlog.UIDKey, req.UID, "position", pos.String(), "status", desired.String())
	return nil
}

func (s *Server) dumpHooks() ([][]byte, error) {
	hooks := s.hooks.Dump()
	descs := make([]protocol.HookDescriptor, 0, len(hooks))
	for _, h := range hooks {
		descs = append(descs, protocol.HookDescriptor{
			Enabled:       h.Enabled,
			UID:           h.NodeUID,
			Interactive:   h.Interactive,
			Once:          h.Once,
			DesiredStatus: h.DesiredStatus.String(),
			Position:      int(h.Position),
		})
	}
	b, err := protocol.EncodeHookDescriptors(descs)
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

func (s *Server) toggleRecording(body []byte) ([][]byte, error) {
	switch string(body) {
	case "start":
		now := s.now()
		s.recorder.Start(now)
		s.log.Info("transition recording started")
		return [][]byte{[]byte(strconv.FormatInt(now.UnixMicro(), 10))}, nil
	case "stop":
		s.recorder.Stop()
		s.log.Info("transition recording stopped")
		return nil, nil
	}
	return nil, reject("bad_body", protocol.MsgRecordingUsage)
}

func (s *Server) syncHookGauge() {
	hooksActive.WithLabelValues(s.label).Set(float64(s.hooks.Len()))
}

// ---- Conversions ----

func hookFromDescriptor(d protocol.HookDescriptor) (breakpoint.Hook, error) {
	pos, err := breakpoint.ParsePosition(d.Position)
	if err != nil {
		return breakpoint.Hook{}, err
	}
	desired, err := desiredStatus(d.DesiredStatus)
	if err != nil {
		return breakpoint.Hook{}, err
	}
	return breakpoint.Hook{
		Position:      pos,
		NodeUID:       d.UID,
		Enabled:       d.Enabled,
		Interactive:   d.Interactive,
		Once:          d.Once,
		DesiredStatus: desired,
	}, nil
}

// desiredStatus parses a status forced by the debugger.
// Empty means SKIPPED; IDLE lets the node run normally.
func desiredStatus(name string) (status.NodeStatus, error) {
	if name == "" {
		return status.StatusSkipped, nil
	}
	s, err := status.ParseNodeStatus(name)
	if err != nil {
		return status.StatusIdle, err
	}
	if s == status.StatusRunning {
		return status.StatusIdle, fmt.Errorf("publisher: cannot force %s", s)
	}
	return s, nil
}

// registryError maps registry failures to the messages clients match on.
func registryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, breakpoint.ErrNotFound), errors.Is(err, breakpoint.ErrUnknownNode):
		return reject("node_not_found", protocol.MsgNodeNotFound)
	}
	return err
}
