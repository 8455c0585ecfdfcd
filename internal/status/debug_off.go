//go:build !btdebug

package status

// unknownNode is a silent no-op in regular builds.
func unknownNode(uint16) {}
