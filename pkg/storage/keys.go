package storage

import (
	"bytes"

	"github.com/graphlite/graphlite/pkg/types"
)

// Bucket names, one per logical key space.
var (
	bucketNodes     = []byte("nodes")
	bucketEdges     = []byte("edges")
	bucketLabels    = []byte("labels")
	bucketTypes     = []byte("types")
	bucketAdjacency = []byte("adjacency")
	bucketCatalog   = []byte("catalog")
	bucketMeta      = []byte("meta")
)

var allBuckets = [][]byte{
	bucketNodes, bucketEdges, bucketLabels, bucketTypes, bucketAdjacency, bucketCatalog, bucketMeta,
}

// metaCheckpointKey stores the highest commit timestamp durably applied to
// the bbolt buckets, used to bound WAL replay on recovery.
var metaCheckpointKey = []byte("checkpoint")

// NodeKey builds the node-space key (graph_id, node_id).
func NodeKey(graphID types.GraphID, nodeID types.NodeID) []byte {
	k := make([]byte, 0, 32)
	k = append(k, graphID[:]...)
	k = append(k, nodeID[:]...)
	return k
}

// EdgeKey builds the edge-space key (graph_id, edge_id).
func EdgeKey(graphID types.GraphID, edgeID types.EdgeID) []byte {
	k := make([]byte, 0, 32)
	k = append(k, graphID[:]...)
	k = append(k, edgeID[:]...)
	return k
}

// LabelKey builds the label-index key (graph_id, label, node_id).
func LabelKey(graphID types.GraphID, label string, nodeID types.NodeID) []byte {
	var buf bytes.Buffer
	buf.Write(graphID[:])
	buf.WriteString(label)
	buf.WriteByte(0)
	buf.Write(nodeID[:])
	return buf.Bytes()
}

// LabelPrefix builds the scan prefix (graph_id, label) for label scans.
func LabelPrefix(graphID types.GraphID, label string) []byte {
	var buf bytes.Buffer
	buf.Write(graphID[:])
	buf.WriteString(label)
	buf.WriteByte(0)
	return buf.Bytes()
}

// NodeIDFromLabelKey extracts the trailing node id from a label-space key.
func NodeIDFromLabelKey(key []byte) types.NodeID {
	var id types.NodeID
	copy(id[:], key[len(key)-16:])
	return id
}

// TypeKey builds the type-index key (graph_id, type, edge_id).
func TypeKey(graphID types.GraphID, edgeType string, edgeID types.EdgeID) []byte {
	var buf bytes.Buffer
	buf.Write(graphID[:])
	buf.WriteString(edgeType)
	buf.WriteByte(0)
	buf.Write(edgeID[:])
	return buf.Bytes()
}

// TypePrefix builds the scan prefix (graph_id, type) for type scans.
func TypePrefix(graphID types.GraphID, edgeType string) []byte {
	var buf bytes.Buffer
	buf.Write(graphID[:])
	buf.WriteString(edgeType)
	buf.WriteByte(0)
	return buf.Bytes()
}

// EdgeIDFromTypeKey extracts the trailing edge id from a type-space key.
func EdgeIDFromTypeKey(key []byte) types.EdgeID {
	var id types.EdgeID
	copy(id[:], key[len(key)-16:])
	return id
}

// AdjacencyKey builds the adjacency-index key (graph_id, node_id, direction,
// edge_id), scanned with a Seek on the (graph_id, node_id, direction)
// prefix for O(degree) enumeration.
func AdjacencyKey(graphID types.GraphID, nodeID types.NodeID, dir types.Direction, edgeID types.EdgeID) []byte {
	k := make([]byte, 0, 49)
	k = append(k, graphID[:]...)
	k = append(k, nodeID[:]...)
	k = append(k, byte(dir))
	k = append(k, edgeID[:]...)
	return k
}

// AdjacencyPrefix builds the scan prefix (graph_id, node_id, direction).
func AdjacencyPrefix(graphID types.GraphID, nodeID types.NodeID, dir types.Direction) []byte {
	k := make([]byte, 0, 33)
	k = append(k, graphID[:]...)
	k = append(k, nodeID[:]...)
	k = append(k, byte(dir))
	return k
}

// EdgeIDFromAdjacencyKey extracts the trailing edge id from an adjacency key.
func EdgeIDFromAdjacencyKey(key []byte) types.EdgeID {
	var id types.EdgeID
	copy(id[:], key[len(key)-16:])
	return id
}

// CatalogBucket exposes the catalog bucket name to pkg/catalog, which
// persists its rows through the same Engine as graph data.
func CatalogBucket() []byte { return bucketCatalog }

// CatalogKey builds a catalog row key as kind, a NUL byte, then name; the
// kind separates schemas/graphs/users/roles/versions within the single
// catalog bucket.
func CatalogKey(kind, name string) []byte {
	var buf bytes.Buffer
	buf.WriteString(kind)
	buf.WriteByte(0)
	buf.WriteString(name)
	return buf.Bytes()
}

func CatalogPrefix(kind string) []byte {
	var buf bytes.Buffer
	buf.WriteString(kind)
	buf.WriteByte(0)
	return buf.Bytes()
}
