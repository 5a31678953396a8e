package storage

import (
	"encoding/json"
	"fmt"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/types"
)

// nodeRecord and edgeRecord are the JSON-encoded payloads stored inside a
// version chain entry; the chain wrapper around them is gob-encoded
// (engine.go) since that list is an internal MVCC structure, not a
// document.
type nodeRecord struct {
	Labels     []string
	Properties map[string]types.Value
}

type edgeRecord struct {
	Type       string
	Src        types.NodeID
	Dst        types.NodeID
	Properties map[string]types.Value
}

// GetNode returns the node visible at snapshot, or ok=false if absent or
// tombstoned.
func (e *Engine) GetNode(graphID types.GraphID, nodeID types.NodeID, snapshot uint64) (*types.Node, bool, error) {
	raw, found, err := e.Get(bucketNodes, NodeKey(graphID, nodeID), snapshot)
	if err != nil || !found {
		return nil, false, err
	}
	var rec nodeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, errors.Wrap(errors.Storage, "decode node", err)
	}
	return &types.Node{ID: nodeID, Labels: rec.Labels, Properties: rec.Properties, CommitTS: snapshot}, true, nil
}

// GetEdge returns the edge visible at snapshot, or ok=false if absent.
func (e *Engine) GetEdge(graphID types.GraphID, edgeID types.EdgeID, snapshot uint64) (*types.Edge, bool, error) {
	raw, found, err := e.Get(bucketEdges, EdgeKey(graphID, edgeID), snapshot)
	if err != nil || !found {
		return nil, false, err
	}
	var rec edgeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, errors.Wrap(errors.Storage, "decode edge", err)
	}
	return &types.Edge{ID: edgeID, Type: rec.Type, Src: rec.Src, Dst: rec.Dst, Properties: rec.Properties, CommitTS: snapshot}, true, nil
}

// ScanLabel streams every node carrying label, visible at snapshot, in
// storage order (the LabelScan operator contract).
func (e *Engine) ScanLabel(graphID types.GraphID, label string, snapshot uint64, fn func(*types.Node) error) error {
	prefix := LabelPrefix(graphID, label)
	return e.ScanPrefix(bucketLabels, prefix, snapshot, func(key, _ []byte) error {
		nodeID := NodeIDFromLabelKey(key)
		node, found, err := e.GetNode(graphID, nodeID, snapshot)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		return fn(node)
	})
}

// ScanAllNodes streams every node in graphID visible at snapshot (used when
// a MATCH pattern carries no label, falling back to a full scan).
func (e *Engine) ScanAllNodes(graphID types.GraphID, snapshot uint64, fn func(*types.Node) error) error {
	return e.ScanPrefix(bucketNodes, graphID[:], snapshot, func(key, value []byte) error {
		var nodeID types.NodeID
		copy(nodeID[:], key[16:])
		var rec nodeRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return errors.Wrap(errors.Storage, "decode node", err)
		}
		return fn(&types.Node{ID: nodeID, Labels: rec.Labels, Properties: rec.Properties, CommitTS: snapshot})
	})
}

// Adjacent streams every edge incident to nodeID in the given direction,
// visible at snapshot, in O(degree) via the adjacency index.
func (e *Engine) Adjacent(graphID types.GraphID, nodeID types.NodeID, dir types.Direction, snapshot uint64, fn func(*types.Edge) error) error {
	prefix := AdjacencyPrefix(graphID, nodeID, dir)
	return e.ScanPrefix(bucketAdjacency, prefix, snapshot, func(key, _ []byte) error {
		edgeID := EdgeIDFromAdjacencyKey(key)
		edge, found, err := e.GetEdge(graphID, edgeID, snapshot)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		return fn(edge)
	})
}

// BuildInsertNode returns the mutations needed to insert a node: the node
// record itself plus one label-index entry per label.
func BuildInsertNode(graphID types.GraphID, node *types.Node) ([]Mutation, error) {
	payload, err := json.Marshal(nodeRecord{Labels: node.Labels, Properties: node.Properties})
	if err != nil {
		return nil, fmt.Errorf("encode node: %w", err)
	}
	muts := []Mutation{{Bucket: bucketNodes, Key: NodeKey(graphID, node.ID), Value: payload}}
	for _, l := range node.Labels {
		muts = append(muts, Mutation{Bucket: bucketLabels, Key: LabelKey(graphID, l, node.ID)})
	}
	return muts, nil
}

// BuildInsertEdge returns the mutations needed to insert an edge: the edge
// record, its type-index entry, and both adjacency-index entries.
func BuildInsertEdge(graphID types.GraphID, edge *types.Edge) ([]Mutation, error) {
	payload, err := json.Marshal(edgeRecord{Type: edge.Type, Src: edge.Src, Dst: edge.Dst, Properties: edge.Properties})
	if err != nil {
		return nil, fmt.Errorf("encode edge: %w", err)
	}
	return []Mutation{
		{Bucket: bucketEdges, Key: EdgeKey(graphID, edge.ID), Value: payload},
		{Bucket: bucketTypes, Key: TypeKey(graphID, edge.Type, edge.ID)},
		{Bucket: bucketAdjacency, Key: AdjacencyKey(graphID, edge.Src, types.DirOutgoing, edge.ID)},
		{Bucket: bucketAdjacency, Key: AdjacencyKey(graphID, edge.Dst, types.DirIncoming, edge.ID)},
	}, nil
}

// BuildDeleteNode returns tombstone mutations for a node and its label
// entries (the adjacency/edge entries of its incident edges are the DML
// layer's responsibility; nodes participating in edges are handled by the
// executor's cascading delete policy).
func BuildDeleteNode(graphID types.GraphID, node *types.Node) []Mutation {
	muts := []Mutation{{Bucket: bucketNodes, Key: NodeKey(graphID, node.ID), Tombstone: true}}
	for _, l := range node.Labels {
		muts = append(muts, Mutation{Bucket: bucketLabels, Key: LabelKey(graphID, l, node.ID), Tombstone: true})
	}
	return muts
}

// BuildDeleteEdge returns tombstone mutations for an edge, its type entry,
// and both adjacency entries.
func BuildDeleteEdge(graphID types.GraphID, edge *types.Edge) []Mutation {
	return []Mutation{
		{Bucket: bucketEdges, Key: EdgeKey(graphID, edge.ID), Tombstone: true},
		{Bucket: bucketTypes, Key: TypeKey(graphID, edge.Type, edge.ID), Tombstone: true},
		{Bucket: bucketAdjacency, Key: AdjacencyKey(graphID, edge.Src, types.DirOutgoing, edge.ID), Tombstone: true},
		{Bucket: bucketAdjacency, Key: AdjacencyKey(graphID, edge.Dst, types.DirIncoming, edge.ID), Tombstone: true},
	}
}

// BuildSetNodeProperty returns the mutation that rewrites a node's full
// property map (read-modify-write at the executor layer; storage only ever
// sees the post-image).
func BuildSetNodeProperty(graphID types.GraphID, node *types.Node) ([]Mutation, error) {
	payload, err := json.Marshal(nodeRecord{Labels: node.Labels, Properties: node.Properties})
	if err != nil {
		return nil, fmt.Errorf("encode node: %w", err)
	}
	return []Mutation{{Bucket: bucketNodes, Key: NodeKey(graphID, node.ID), Value: payload}}, nil
}

// BuildSetEdgeProperty returns the mutation that rewrites an edge's full
// property map.
func BuildSetEdgeProperty(graphID types.GraphID, edge *types.Edge) ([]Mutation, error) {
	payload, err := json.Marshal(edgeRecord{Type: edge.Type, Src: edge.Src, Dst: edge.Dst, Properties: edge.Properties})
	if err != nil {
		return nil, fmt.Errorf("encode edge: %w", err)
	}
	return []Mutation{{Bucket: bucketEdges, Key: EdgeKey(graphID, edge.ID), Value: payload}}, nil
}
