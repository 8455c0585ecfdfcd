// internal/protocol/header.go
package protocol

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"
)

// Header layout constants.
// These values define the wire protocol and MUST NOT be configurable.

// ProtocolID is carried in every header.
const ProtocolID uint8 = 1

// RequestHeaderSize is the wire size of a RequestHeader.
const RequestHeaderSize = 6

// TreeIDSize is the size of the tree identifier.
const TreeIDSize = 16

// ReplyHeaderSize is the wire size of a ReplyHeader.
const ReplyHeaderSize = RequestHeaderSize + TreeIDSize

// ErrHeaderSize is returned when a buffer does not have the fixed header size.
var ErrHeaderSize = errors.New("protocol: wrong header size")

// Kind identifies the request. One ASCII byte on the wire.
type Kind uint8

const (
	KindUndefined         Kind = 0
	KindFullTree          Kind = 'T'
	KindStatus            Kind = 'S'
	KindBlackboard        Kind = 'B'
	KindHookInsert        Kind = 'I'
	KindHookRemove        Kind = 'R'
	KindBreakpointReached Kind = 'N'
	KindBreakpointUnlock  Kind = 'U'
	KindHooksDump         Kind = 'D'
	KindRemoveAllHooks    Kind = 'A'
	KindDisableAllHooks   Kind = 'X'
	KindToggleRecording   Kind = 'r'
	KindGetTransitions    Kind = 't'
)

func (k Kind) String() string {
	switch k {
	case KindFullTree:
		return "FullTree"
	case KindStatus:
		return "Status"
	case KindBlackboard:
		return "BlackBoard"
	case KindHookInsert:
		return "HookInsert"
	case KindHookRemove:
		return "HookRemove"
	case KindBreakpointReached:
		return "BreakpointReached"
	case KindBreakpointUnlock:
		return "BreakpointUnlock"
	case KindHooksDump:
		return "HooksDump"
	case KindRemoveAllHooks:
		return "RemoveAllHooks"
	case KindDisableAllHooks:
		return "DisableAllHooks"
	case KindToggleRecording:
		return "ToggleRecording"
	case KindGetTransitions:
		return "GetTransitions"
	case KindUndefined:
		return "Undefined"
	}
	return "Unknown"
}

// Known reports whether k is a request a client may send.
// KindBreakpointReached only travels on the notification socket.
func (k Kind) Known() bool {
	switch k {
	case KindFullTree, KindStatus, KindBlackboard,
		KindHookInsert, KindHookRemove, KindBreakpointUnlock,
		KindHooksDump, KindRemoveAllHooks, KindDisableAllHooks,
		KindToggleRecording, KindGetTransitions:
		return true
	}
	return false
}

// TreeID identifies one publisher instance.
type TreeID [TreeIDSize]byte

// RequestHeader opens every request and every reply.
type RequestHeader struct {
	UniqueID uint32
	Protocol uint8
	Kind     Kind
}

// NewRequestHeader returns a header with a random unique id.
func NewRequestHeader(k Kind) RequestHeader {
	return RequestHeader{
		UniqueID: rand.Uint32(),
		Protocol: ProtocolID,
		Kind:     k,
	}
}

// ReplyHeader is the request header echoed back plus the tree id.
type ReplyHeader struct {
	Request RequestHeader
	TreeID  TreeID
}

//
// ---- Header codec (LOCKED) ----
//
// RequestHeader (6 bytes):
// 0    Protocol
// 1    Kind
// 2–5  UniqueID (little-endian)
//
// ReplyHeader (22 bytes):
// 0–5  RequestHeader
// 6–21 TreeID
//

// EncodeRequestHeader serializes h into its fixed 6-byte form.
func EncodeRequestHeader(h RequestHeader) [RequestHeaderSize]byte {
	var out [RequestHeaderSize]byte
	putRequestHeader(out[:], h)
	return out
}

// DecodeRequestHeader is the inverse of EncodeRequestHeader.
func DecodeRequestHeader(b [RequestHeaderSize]byte) RequestHeader {
	return RequestHeader{
		Protocol: b[0],
		Kind:     Kind(b[1]),
		UniqueID: binary.LittleEndian.Uint32(b[2:6]),
	}
}

// EncodeReplyHeader serializes h into its fixed 22-byte form.
func EncodeReplyHeader(h ReplyHeader) [ReplyHeaderSize]byte {
	var out [ReplyHeaderSize]byte
	putRequestHeader(out[:RequestHeaderSize], h.Request)
	copy(out[RequestHeaderSize:], h.TreeID[:])
	return out
}

// DecodeReplyHeader is the inverse of EncodeReplyHeader.
func DecodeReplyHeader(b [ReplyHeaderSize]byte) ReplyHeader {
	var rh ReplyHeader
	rh.Request = DecodeRequestHeader([RequestHeaderSize]byte(b[:RequestHeaderSize]))
	copy(rh.TreeID[:], b[RequestHeaderSize:])
	return rh
}

// ParseRequestHeader decodes a frame that must be exactly one RequestHeader.
func ParseRequestHeader(frame []byte) (RequestHeader, error) {
	if len(frame) != RequestHeaderSize {
		return RequestHeader{}, ErrHeaderSize
	}
	return DecodeRequestHeader([RequestHeaderSize]byte(frame)), nil
}

// ParseReplyHeader decodes a frame that must be exactly one ReplyHeader.
func ParseReplyHeader(frame []byte) (ReplyHeader, error) {
	if len(frame) != ReplyHeaderSize {
		return ReplyHeader{}, ErrHeaderSize
	}
	return DecodeReplyHeader([ReplyHeaderSize]byte(frame)), nil
}

func putRequestHeader(dst []byte, h RequestHeader) {
	dst[0] = h.Protocol
	dst[1] = byte(h.Kind)
	binary.LittleEndian.PutUint32(dst[2:6], h.UniqueID)
}
