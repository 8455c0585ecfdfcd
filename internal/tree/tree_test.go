package tree

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *Static {
	t.Helper()
	bb := NewMapBlackboard()
	bb.Set("goal", "dock")

	st, err := NewStatic(
		&Subtree{TreeID: "MainTree", Blackboard: bb, Nodes: []Node{
			&BasicNode{ID: 1, Label: "root", Kind: "Sequence"},
			&BasicNode{ID: 2, Label: "approach"},
		}},
		&Subtree{TreeID: "Dock", InstanceName: "dock_1", Nodes: []Node{
			&BasicNode{ID: 3, Label: "align"},
		}},
	)
	require.NoError(t, err)
	return st
}

func TestStatic_UIDsInBuildOrder(t *testing.T) {
	assert.Equal(t, []uint16{1, 2, 3}, UIDs(sample(t)))
}

func TestStatic_RejectsDuplicates(t *testing.T) {
	_, err := NewStatic(
		&Subtree{TreeID: "A", Nodes: []Node{&BasicNode{ID: 1}}},
		&Subtree{TreeID: "B", Nodes: []Node{&BasicNode{ID: 1}}},
	)
	assert.Error(t, err)

	_, err = NewStatic(&Subtree{TreeID: "A"}, &Subtree{TreeID: "A"})
	assert.Error(t, err)
}

func TestSubtree_Name(t *testing.T) {
	assert.Equal(t, "MainTree", (&Subtree{TreeID: "MainTree"}).Name())
	assert.Equal(t, "dock_1", (&Subtree{TreeID: "Dock", InstanceName: "dock_1"}).Name())
}

func TestStatic_XMLCarriesUIDs(t *testing.T) {
	out, err := sample(t).XML()
	require.NoError(t, err)

	var parsed xmlRoot
	require.NoError(t, xml.Unmarshal([]byte(out), &parsed))
	require.Len(t, parsed.Trees, 2)
	assert.Equal(t, "MainTree", parsed.Trees[0].ID)
	assert.Equal(t, "dock_1", parsed.Trees[1].FullPath)
	assert.Equal(t, xmlNode{ID: "Sequence", Name: "root", UID: 1}, parsed.Trees[0].Nodes[0])
	assert.Equal(t, uint16(3), parsed.Trees[1].Nodes[0].UID)
}

func TestMapBlackboard(t *testing.T) {
	bb := NewMapBlackboard()
	bb.Set("b", 2)
	bb.Set("a", "x")

	assert.Equal(t, []string{"a", "b"}, bb.Keys())
	v, ok := bb.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
