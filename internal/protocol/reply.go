// internal/protocol/reply.go
package protocol

import "strings"

// ErrorTag is the first frame of every error reply.
const ErrorTag = "error"

// Error reply messages. Clients match on these strings.
const (
	MsgWrongHeader    = "wrong request header"
	MsgTwoParts       = "must be 2 parts message"
	MsgNotRecognized  = "Request not recognized"
	MsgNodeNotFound   = "Node ID not found"
	MsgRecordingUsage = "expected start or stop"
)

// ErrorReply builds the frames of an error reply.
func ErrorReply(msg string) [][]byte {
	return [][]byte{[]byte(ErrorTag), []byte(msg)}
}

// IsErrorReply reports whether frames are an error reply and returns its message.
func IsErrorReply(frames [][]byte) (string, bool) {
	if len(frames) == 0 || string(frames[0]) != ErrorTag {
		return "", false
	}
	if len(frames) < 2 {
		return "", true
	}
	return string(frames[1]), true
}

// BlackboardSeparator separates subtree names in a blackboard request.
const BlackboardSeparator = ";"

// SplitBlackboardNames parses a blackboard request body. Empty names are dropped.
func SplitBlackboardNames(body []byte) []string {
	var out []string
	for _, n := range strings.Split(string(body), BlackboardSeparator) {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// JoinBlackboardNames is the client-side inverse of SplitBlackboardNames.
func JoinBlackboardNames(names []string) []byte {
	return []byte(strings.Join(names, BlackboardSeparator))
}
