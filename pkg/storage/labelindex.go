package storage

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/graphlite/graphlite/pkg/types"
)

// labelIndex keeps an in-memory roaring-bitmap postings list per
// (graph, label), giving the planner O(1) label cardinality estimates
// without a bucket scan (catalog.GraphStats.LabelCounts). Node ids are
// 128-bit UUIDs; roaring bitmaps operate on uint32, so the index assigns
// each node a dense per-graph sequence number the first time it is seen.
type labelIndex struct {
	mu      sync.RWMutex
	bitmaps map[types.GraphID]map[string]*roaring.Bitmap
	seq     map[types.GraphID]map[types.NodeID]uint32
	next    map[types.GraphID]uint32
}

func newLabelIndex() *labelIndex {
	return &labelIndex{
		bitmaps: make(map[types.GraphID]map[string]*roaring.Bitmap),
		seq:     make(map[types.GraphID]map[types.NodeID]uint32),
		next:    make(map[types.GraphID]uint32),
	}
}

func (li *labelIndex) seqFor(graphID types.GraphID, nodeID types.NodeID) uint32 {
	graphSeq, ok := li.seq[graphID]
	if !ok {
		graphSeq = make(map[types.NodeID]uint32)
		li.seq[graphID] = graphSeq
	}
	if s, ok := graphSeq[nodeID]; ok {
		return s
	}
	s := li.next[graphID]
	li.next[graphID] = s + 1
	graphSeq[nodeID] = s
	return s
}

func (li *labelIndex) bitmapFor(graphID types.GraphID, label string) *roaring.Bitmap {
	graphBitmaps, ok := li.bitmaps[graphID]
	if !ok {
		graphBitmaps = make(map[string]*roaring.Bitmap)
		li.bitmaps[graphID] = graphBitmaps
	}
	bm, ok := graphBitmaps[label]
	if !ok {
		bm = roaring.NewBitmap()
		graphBitmaps[label] = bm
	}
	return bm
}

// Add records that nodeID currently carries label within graphID.
func (li *labelIndex) Add(graphID types.GraphID, label string, nodeID types.NodeID) {
	li.mu.Lock()
	defer li.mu.Unlock()
	s := li.seqFor(graphID, nodeID)
	li.bitmapFor(graphID, label).Add(s)
}

// Remove records that nodeID no longer carries label (tombstoned or
// relabeled).
func (li *labelIndex) Remove(graphID types.GraphID, label string, nodeID types.NodeID) {
	li.mu.Lock()
	defer li.mu.Unlock()
	graphSeq, ok := li.seq[graphID]
	if !ok {
		return
	}
	s, ok := graphSeq[nodeID]
	if !ok {
		return
	}
	li.bitmapFor(graphID, label).Remove(s)
}

// Count returns the cardinality estimate for (graphID, label).
func (li *labelIndex) Count(graphID types.GraphID, label string) int64 {
	li.mu.RLock()
	defer li.mu.RUnlock()
	graphBitmaps, ok := li.bitmaps[graphID]
	if !ok {
		return 0
	}
	bm, ok := graphBitmaps[label]
	if !ok {
		return 0
	}
	return int64(bm.GetCardinality())
}

// Labels returns every label currently tracked for graphID.
func (li *labelIndex) Labels(graphID types.GraphID) []string {
	li.mu.RLock()
	defer li.mu.RUnlock()
	graphBitmaps, ok := li.bitmaps[graphID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(graphBitmaps))
	for l := range graphBitmaps {
		out = append(out, l)
	}
	return out
}
