package types

import (
	"time"

	"github.com/google/uuid"
)

// NodeID and EdgeID are 128-bit stable identities, stored as raw uuid.UUID
// values (not strings) so identity comparison on the hot path is a plain
// [16]byte equality rather than a string compare.
type NodeID = uuid.UUID
type EdgeID = uuid.UUID

// GraphID identifies a graph within the catalog namespace.
type GraphID = uuid.UUID

// NewNodeID and NewEdgeID mint fresh random identities.
func NewNodeID() NodeID { return uuid.New() }
func NewEdgeID() EdgeID { return uuid.New() }
func NewGraphID() GraphID { return uuid.New() }

// Direction of traversal from a node across an edge.
type Direction uint8

const (
	DirOutgoing Direction = iota
	DirIncoming
	DirBoth
)

// Node is the materialized, borrowed view of a stored node, valid only for
// the life of the enclosing transaction snapshot. Labels and property keys
// are interned (see intern.go).
type Node struct {
	ID         NodeID
	Labels     []string
	Properties map[string]Value
	CommitTS   uint64
}

// HasLabel reports whether the node carries label l (interned comparison).
func (n *Node) HasLabel(l string) bool {
	l = Labels.Intern(l)
	for _, have := range n.Labels {
		if have == l {
			return true
		}
	}
	return false
}

// Edge is the materialized, borrowed view of a stored edge. Direction is
// always "outgoing from Src"; Direction only matters when traversing.
type Edge struct {
	ID         EdgeID
	Type       string
	Src        NodeID
	Dst        NodeID
	Properties map[string]Value
	CommitTS   uint64
}

// Now returns the current wall-clock time. Centralized so storage timestamps
// (CreatedAt fields on catalog rows) have one call site to stub in tests.
func Now() time.Time { return time.Now().UTC() }
