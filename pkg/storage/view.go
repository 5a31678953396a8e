package storage

import (
	"bytes"
	"encoding/json"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/types"
)

// View is a read surface combining a committed snapshot with a transaction's
// staged-but-uncommitted write set, so a session observes its own writes
// before commit. A View with an empty
// overlay is a plain snapshot read.
type View struct {
	engine   *Engine
	snapshot uint64
	overlay  []Mutation
}

// ViewAt builds a View over the given snapshot, overlaying the staged
// mutations in order (a later mutation to the same key shadows an earlier
// one).
func (e *Engine) ViewAt(snapshot uint64, overlay []Mutation) *View {
	return &View{engine: e, snapshot: snapshot, overlay: overlay}
}

// Snapshot returns the committed timestamp this view reads at.
func (v *View) Snapshot() uint64 { return v.snapshot }

// overlayFor collects the effective (last-wins) staged mutation per key in
// bucket. The overlay is a transaction's write set, typically small, so
// rebuilding the map per operation is cheaper than keeping it in sync.
func (v *View) overlayFor(bucket []byte) map[string]*Mutation {
	if len(v.overlay) == 0 {
		return nil
	}
	m := make(map[string]*Mutation)
	for i := range v.overlay {
		mut := &v.overlay[i]
		if bytes.Equal(mut.Bucket, bucket) {
			m[string(mut.Key)] = mut
		}
	}
	return m
}

// Get reads (bucket, key) through the overlay: a staged write wins over the
// committed chain, a staged tombstone hides it.
func (v *View) Get(bucket, key []byte) ([]byte, bool, error) {
	if ov := v.overlayFor(bucket); ov != nil {
		if mut, ok := ov[string(key)]; ok {
			if mut.Tombstone {
				return nil, false, nil
			}
			return mut.Value, true, nil
		}
	}
	return v.engine.Get(bucket, key, v.snapshot)
}

// ScanPrefix merges the committed prefix scan with staged additions.
// Committed keys shadowed by a staged mutation are replaced or skipped;
// staged keys not present in the committed state are emitted after the
// committed ones.
func (v *View) ScanPrefix(bucket, prefix []byte, fn func(key, value []byte) error) error {
	ov := v.overlayFor(bucket)
	emitted := make(map[string]bool, len(ov))
	err := v.engine.ScanPrefix(bucket, prefix, v.snapshot, func(key, value []byte) error {
		if mut, ok := ov[string(key)]; ok {
			emitted[string(key)] = true
			if mut.Tombstone {
				return nil
			}
			return fn(key, mut.Value)
		}
		return fn(key, value)
	})
	if err != nil {
		return err
	}
	for k, mut := range ov {
		if emitted[k] || mut.Tombstone || !bytes.HasPrefix(mut.Key, prefix) {
			continue
		}
		if err := fn(mut.Key, mut.Value); err != nil {
			return err
		}
	}
	return nil
}

// GetNode returns the node visible through this view, or ok=false.
func (v *View) GetNode(graphID types.GraphID, nodeID types.NodeID) (*types.Node, bool, error) {
	raw, found, err := v.Get(bucketNodes, NodeKey(graphID, nodeID))
	if err != nil || !found {
		return nil, false, err
	}
	var rec nodeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, errors.Wrap(errors.Storage, "decode node", err)
	}
	return &types.Node{ID: nodeID, Labels: rec.Labels, Properties: rec.Properties, CommitTS: v.snapshot}, true, nil
}

// GetEdge returns the edge visible through this view, or ok=false.
func (v *View) GetEdge(graphID types.GraphID, edgeID types.EdgeID) (*types.Edge, bool, error) {
	raw, found, err := v.Get(bucketEdges, EdgeKey(graphID, edgeID))
	if err != nil || !found {
		return nil, false, err
	}
	var rec edgeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, errors.Wrap(errors.Storage, "decode edge", err)
	}
	return &types.Edge{ID: edgeID, Type: rec.Type, Src: rec.Src, Dst: rec.Dst, Properties: rec.Properties, CommitTS: v.snapshot}, true, nil
}

// ScanLabel streams every node carrying label visible through this view, in
// storage order with staged inserts last.
func (v *View) ScanLabel(graphID types.GraphID, label string, fn func(*types.Node) error) error {
	prefix := LabelPrefix(graphID, label)
	return v.ScanPrefix(bucketLabels, prefix, func(key, _ []byte) error {
		nodeID := NodeIDFromLabelKey(key)
		node, found, err := v.GetNode(graphID, nodeID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		return fn(node)
	})
}

// ScanAllNodes streams every node in graphID visible through this view.
func (v *View) ScanAllNodes(graphID types.GraphID, fn func(*types.Node) error) error {
	return v.ScanPrefix(bucketNodes, graphID[:], func(key, value []byte) error {
		var nodeID types.NodeID
		copy(nodeID[:], key[16:])
		var rec nodeRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return errors.Wrap(errors.Storage, "decode node", err)
		}
		return fn(&types.Node{ID: nodeID, Labels: rec.Labels, Properties: rec.Properties, CommitTS: v.snapshot})
	})
}

// Adjacent streams every edge incident to nodeID in the given direction
// visible through this view, in O(degree) plus the overlay size.
func (v *View) Adjacent(graphID types.GraphID, nodeID types.NodeID, dir types.Direction, fn func(*types.Edge) error) error {
	prefix := AdjacencyPrefix(graphID, nodeID, dir)
	return v.ScanPrefix(bucketAdjacency, prefix, func(key, _ []byte) error {
		edgeID := EdgeIDFromAdjacencyKey(key)
		edge, found, err := v.GetEdge(graphID, edgeID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		return fn(edge)
	})
}
