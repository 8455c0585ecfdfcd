// internal/protocol/descriptor.go
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Breakpoint positions on the wire.
const (
	PositionPre  = 0
	PositionPost = 1
)

// HookDescriptor is the structured form of a breakpoint,
// used by insert requests and dump replies.
type HookDescriptor struct {
	Enabled       bool   `json:"enabled"`
	UID           uint16 `json:"uid"`
	Interactive   bool   `json:"interactive"`
	Once          bool   `json:"once"`
	DesiredStatus string `json:"desired_status"`
	Position      int    `json:"position"`
}

// UnlockRequest is the body of a BreakpointUnlock request.
type UnlockRequest struct {
	UID            uint16 `json:"uid"`
	DesiredStatus  string `json:"desired_status"`
	Position       int    `json:"position"`
	RemoveWhenDone bool   `json:"remove_when_done"`
}

// RemoveRequest is the body of a HookRemove request.
type RemoveRequest struct {
	UID      uint16 `json:"uid"`
	Position int    `json:"position"`
}

// ParseHookDescriptors accepts a single descriptor or an array of them.
// A missing "enabled" field means enabled.
func ParseHookDescriptors(body []byte) ([]HookDescriptor, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("protocol: empty hook body")
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("protocol: hook array: %w", err)
		}
		out := make([]HookDescriptor, 0, len(raw))
		for i, r := range raw {
			d, err := parseHookDescriptor(r)
			if err != nil {
				return nil, fmt.Errorf("protocol: hook %d: %w", i, err)
			}
			out = append(out, d)
		}
		return out, nil
	}

	d, err := parseHookDescriptor(trimmed)
	if err != nil {
		return nil, fmt.Errorf("protocol: hook: %w", err)
	}
	return []HookDescriptor{d}, nil
}

func parseHookDescriptor(b []byte) (HookDescriptor, error) {
	d := HookDescriptor{Enabled: true}
	if err := json.Unmarshal(b, &d); err != nil {
		return HookDescriptor{}, err
	}
	if err := checkPosition(d.Position); err != nil {
		return HookDescriptor{}, err
	}
	return d, nil
}

// EncodeHookDescriptors renders a dump reply body. Never "null".
func EncodeHookDescriptors(ds []HookDescriptor) ([]byte, error) {
	if ds == nil {
		ds = []HookDescriptor{}
	}
	return json.Marshal(ds)
}

// ParseUnlockRequest decodes an unlock body.
func ParseUnlockRequest(body []byte) (UnlockRequest, error) {
	var r UnlockRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return UnlockRequest{}, fmt.Errorf("protocol: unlock: %w", err)
	}
	if err := checkPosition(r.Position); err != nil {
		return UnlockRequest{}, fmt.Errorf("protocol: unlock: %w", err)
	}
	return r, nil
}

// ParseRemoveRequest decodes a remove body.
func ParseRemoveRequest(body []byte) (RemoveRequest, error) {
	var r RemoveRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return RemoveRequest{}, fmt.Errorf("protocol: remove: %w", err)
	}
	if err := checkPosition(r.Position); err != nil {
		return RemoveRequest{}, fmt.Errorf("protocol: remove: %w", err)
	}
	return r, nil
}

func checkPosition(p int) error {
	if p != PositionPre && p != PositionPost {
		return fmt.Errorf("invalid position %d", p)
	}
	return nil
}
