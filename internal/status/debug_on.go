//go:build btdebug

package status

import "fmt"

// unknownNode panics in btdebug builds: the engine reported a node
// that was not part of the tree when the buffer was built.
func unknownNode(uid uint16) {
	panic(fmt.Sprintf("status: update for unknown node uid %d", uid))
}
