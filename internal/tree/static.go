package tree

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Static is an immutable Tree built from a list of subtrees.
type Static struct {
	subtrees []*Subtree
}

// NewStatic checks that node uids are unique across all subtrees.
func NewStatic(subtrees ...*Subtree) (*Static, error) {
	seen := make(map[uint16]string)
	names := make(map[string]struct{})

	for _, st := range subtrees {
		if st == nil {
			return nil, fmt.Errorf("tree: nil subtree")
		}
		if _, dup := names[st.Name()]; dup {
			return nil, fmt.Errorf("tree: duplicate subtree name %q", st.Name())
		}
		names[st.Name()] = struct{}{}

		for _, n := range st.Nodes {
			if prev, dup := seen[n.UID()]; dup {
				return nil, fmt.Errorf("tree: uid %d used by %q and %q", n.UID(), prev, n.Name())
			}
			seen[n.UID()] = n.Name()
		}
	}

	return &Static{subtrees: subtrees}, nil
}

func (s *Static) Subtrees() []*Subtree {
	return s.subtrees
}

// XML layout:
//
//	<root BTCPP_format="4">
//	  <BehaviorTree ID="..." _fullpath="...">
//	    <Action ID="..." name="..." _uid="..."/>
//	  </BehaviorTree>
//	</root>
type xmlRoot struct {
	XMLName xml.Name  `xml:"root"`
	Format  string    `xml:"BTCPP_format,attr"`
	Trees   []xmlTree `xml:"BehaviorTree"`
}

type xmlTree struct {
	ID       string    `xml:"ID,attr"`
	FullPath string    `xml:"_fullpath,attr,omitempty"`
	Nodes    []xmlNode `xml:"Action"`
}

type xmlNode struct {
	ID   string `xml:"ID,attr,omitempty"`
	Name string `xml:"name,attr"`
	UID  uint16 `xml:"_uid,attr"`
}

// XML renders the flat structure of the tree with node uids.
func (s *Static) XML() (string, error) {
	root := xmlRoot{Format: "4"}

	for _, st := range s.subtrees {
		t := xmlTree{ID: st.TreeID, FullPath: st.InstanceName}
		for _, n := range st.Nodes {
			xn := xmlNode{Name: n.Name(), UID: n.UID()}
			if bn, ok := n.(*BasicNode); ok && bn.Kind != "" {
				xn.ID = bn.Kind
			}
			t.Nodes = append(t.Nodes, xn)
		}
		root.Trees = append(root.Trees, t)
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return "", fmt.Errorf("tree: xml: %w", err)
	}
	return buf.String(), nil
}
