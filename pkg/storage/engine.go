// Package storage implements GraphLite's embedded single-writer/
// multi-reader key-value layer: an MVCC version-chain store backed by
// go.etcd.io/bbolt, fronted by a write-ahead log for crash durability.
// It is the sole owner of node, edge, label/type index, adjacency
// index, and catalog records.
package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/metrics"
	"github.com/graphlite/graphlite/pkg/storage/wal"
	bolt "go.etcd.io/bbolt"
)

// version is one entry in a key's MVCC chain.
type version struct {
	CommitTS  uint64
	Tombstone bool
	Payload   []byte
}

// chain is a key's full version history, ordered newest first.
type chain []version

// visibleAt returns the payload visible to a reader at snapshot ts, and
// whether any version is visible at all (a tombstone counts as "visible but
// absent": found=false).
func (c chain) visibleAt(ts uint64) (payload []byte, found bool) {
	for _, v := range c {
		if v.CommitTS <= ts {
			if v.Tombstone {
				return nil, false
			}
			return v.Payload, true
		}
	}
	return nil, false
}

func (c chain) newestCommit() uint64 {
	if len(c) == 0 {
		return 0
	}
	return c[0].CommitTS
}

// Mutation is one key write or tombstone within a WriteBatch.
type Mutation struct {
	Bucket    []byte
	Key       []byte
	Value     []byte
	Tombstone bool
}

// WriteBatch is the unit submitted to Engine.Apply: a set of mutations plus
// the snapshot timestamp they were computed against. All mutations commit
// atomically or none do.
type WriteBatch struct {
	TxnID     string
	Snapshot  uint64
	Mutations []Mutation
}

// Engine is the singleton storage layer owned by exactly one
// coordinator.Coordinator.
type Engine struct {
	db       *bolt.DB
	wal      *wal.WAL
	fsync    bool
	cache    *recordCache
	labels   *labelIndex
	types    *labelIndex // reused postings structure, keyed by edge type
	commitMu sync.Mutex
	lastTS   atomic.Uint64
}

// Options configures Engine construction; mirrors the knobs a host passes
// through coordinator.Open (pkg/config.Knobs).
type Options struct {
	CacheSize       int
	WALSegmentBytes int64
	FsyncEveryApply bool
}

// Open opens or creates the storage layout at dir: <dir>/graphlite.db (the
// bbolt key-value file) and <dir>/wal (WAL segments), then replays any WAL
// records newer than the last durable checkpoint.
func Open(dir string, opts Options) (*Engine, error) {
	dbPath := filepath.Join(dir, "graphlite.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(errors.CannotOpen, "open bbolt database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CorruptDatabase, "initialize buckets", err)
	}

	w, err := wal.Open(filepath.Join(dir, "wal"), opts.WALSegmentBytes)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CannotOpen, "open WAL", err)
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = 10_000
	}
	e := &Engine{
		db:     db,
		wal:    w,
		fsync:  opts.FsyncEveryApply,
		cache:  newRecordCache(opts.CacheSize),
		labels: newLabelIndex(),
		types:  newLabelIndex(),
	}

	checkpoint := e.readCheckpoint()
	if err := e.recover(checkpoint); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CorruptDatabase, "WAL recovery", err)
	}
	if err := e.rebuildIndices(); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CorruptDatabase, "rebuild label/type index", err)
	}
	return e, nil
}

func (e *Engine) readCheckpoint() uint64 {
	var ts uint64
	_ = e.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaCheckpointKey)
		if len(v) == 8 {
			ts = decodeUint64(v)
		}
		return nil
	})
	e.lastTS.Store(ts)
	return ts
}

// recover replays WAL records newer than checkpoint directly into bbolt,
// without conflict checks (they were already committed before the crash).
func (e *Engine) recover(checkpoint uint64) error {
	return wal.Replay(e.wal.Dir(), func(rec wal.Record) error {
		if rec.Timestamp <= checkpoint {
			return nil
		}
		return e.applyRecord(rec)
	})
}

func (e *Engine) applyRecord(rec wal.Record) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		for _, op := range rec.Ops {
			if err := appendVersion(tx, op.Bucket, op.Key, rec.Timestamp, op.Tombstone, op.Value); err != nil {
				return err
			}
		}
		return putCheckpoint(tx, rec.Timestamp)
	})
}

// rebuildIndices scans the label and type buckets once at startup to
// populate the in-memory roaring-bitmap postings (labelIndex does not
// persist; it is cheap to rebuild from the authoritative bbolt buckets).
func (e *Engine) rebuildIndices() error {
	snapshot := e.lastTS.Load()
	return e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLabels).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			ch, err := decodeChain(v)
			if err != nil {
				return err
			}
			if _, ok := ch.visibleAt(snapshot); !ok {
				continue
			}
			graphID, label, nodeID := splitLabelKey(k)
			e.labels.Add(graphID, label, nodeID)
		}
		c2 := tx.Bucket(bucketTypes).Cursor()
		for k, v := c2.First(); k != nil; k, v = c2.Next() {
			ch, err := decodeChain(v)
			if err != nil {
				return err
			}
			if _, ok := ch.visibleAt(snapshot); !ok {
				continue
			}
			graphID, typ, edgeID := splitTypeKey(k)
			e.types.Add(graphID, typ, edgeID)
		}
		return nil
	})
}

// Close flushes and closes the WAL and bbolt database.
func (e *Engine) Close() error {
	if err := e.wal.Close(); err != nil {
		return err
	}
	return e.db.Close()
}

// Snapshot returns a read view: the current global commit timestamp. It is
// O(1) and the returned value is immutable (lock-free reads against it).
func (e *Engine) Snapshot() uint64 {
	return e.lastTS.Load()
}

// Get reads the value visible at snapshot for (bucket, key). The cache holds
// the key's full encoded version chain, not a resolved payload, so one cached
// entry serves readers at any snapshot; visibility is computed per call.
func (e *Engine) Get(bucket, key []byte, snapshot uint64) ([]byte, bool, error) {
	cacheKey := cacheKeyFor(bucket, key)
	if raw, ok := e.cache.Get(cacheKey); ok {
		metrics.CacheHits.Inc()
		if raw == nil {
			return nil, false, nil
		}
		ch, err := decodeChain(raw)
		if err != nil {
			return nil, false, errors.Wrap(errors.Storage, "decode cached chain", err)
		}
		payload, found := ch.visibleAt(snapshot)
		return payload, found, nil
	}
	metrics.CacheMisses.Inc()

	var payload []byte
	var found bool
	err := e.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get(key)
		if raw == nil {
			e.cache.Put(cacheKey, nil)
			return nil
		}
		cached := make([]byte, len(raw))
		copy(cached, raw)
		e.cache.Put(cacheKey, cached)
		ch, err := decodeChain(raw)
		if err != nil {
			return err
		}
		payload, found = ch.visibleAt(snapshot)
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(errors.Storage, "read key", err)
	}
	return payload, found, nil
}

// ScanPrefix invokes fn for every key with the given prefix that is visible
// at snapshot, in bbolt's sorted key order. fn receives the full key and the
// visible payload.
func (e *Engine) ScanPrefix(bucket, prefix []byte, snapshot uint64, fn func(key, value []byte) error) error {
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			ch, err := decodeChain(v)
			if err != nil {
				return err
			}
			payload, found := ch.visibleAt(snapshot)
			if !found {
				continue
			}
			if err := fn(k, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.Storage, "scan prefix", err)
	}
	return nil
}

// Apply commits batch atomically, or fails with a Conflict error. A write at
// version V_new conflicts if any key in the batch has a committed version
// newer than batch.Snapshot. On success it returns the
// new global commit timestamp.
func (e *Engine) Apply(batch WriteBatch) (uint64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StorageApplyDuration)

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	conflict, err := e.hasConflict(batch)
	if err != nil {
		return 0, errors.Wrap(errors.Storage, "conflict check", err)
	}
	if conflict {
		return 0, errors.New(errors.Conflict, "write conflict: a mutated key changed since the transaction's snapshot")
	}

	newTS := e.lastTS.Load() + 1

	rec := wal.Record{TxnID: batch.TxnID, Timestamp: newTS, Ops: make([]wal.Op, len(batch.Mutations))}
	for i, m := range batch.Mutations {
		rec.Ops[i] = wal.Op{Bucket: m.Bucket, Key: m.Key, Value: m.Value, Tombstone: m.Tombstone}
	}

	walTimer := metrics.NewTimer()
	if err := e.wal.Append(rec, e.fsync); err != nil {
		return 0, errors.Wrap(errors.Storage, "WAL append", err)
	}
	walTimer.ObserveDuration(metrics.WALAppendDuration)

	err = e.db.Update(func(tx *bolt.Tx) error {
		for _, m := range batch.Mutations {
			if err := appendVersion(tx, m.Bucket, m.Key, newTS, m.Tombstone, m.Value); err != nil {
				return err
			}
		}
		return putCheckpoint(tx, newTS)
	})
	if err != nil {
		return 0, errors.Wrap(errors.Storage, "apply write batch", err)
	}

	e.lastTS.Store(newTS)
	e.updateIndices(batch, newTS)
	e.invalidateCache(batch)

	return newTS, nil
}

func (e *Engine) hasConflict(batch WriteBatch) (bool, error) {
	conflict := false
	err := e.db.View(func(tx *bolt.Tx) error {
		for _, m := range batch.Mutations {
			raw := tx.Bucket(m.Bucket).Get(m.Key)
			if raw == nil {
				continue
			}
			ch, err := decodeChain(raw)
			if err != nil {
				return err
			}
			if ch.newestCommit() > batch.Snapshot {
				conflict = true
				return nil
			}
		}
		return nil
	})
	return conflict, err
}

func (e *Engine) updateIndices(batch WriteBatch, commitTS uint64) {
	for _, m := range batch.Mutations {
		switch {
		case bytes.Equal(m.Bucket, bucketLabels):
			graphID, label, nodeID := splitLabelKey(m.Key)
			if m.Tombstone {
				e.labels.Remove(graphID, label, nodeID)
			} else {
				e.labels.Add(graphID, label, nodeID)
			}
		case bytes.Equal(m.Bucket, bucketTypes):
			graphID, typ, edgeID := splitTypeKey(m.Key)
			if m.Tombstone {
				e.types.Remove(graphID, typ, edgeID)
			} else {
				e.types.Add(graphID, typ, edgeID)
			}
		}
	}
}

func (e *Engine) invalidateCache(batch WriteBatch) {
	for _, m := range batch.Mutations {
		e.cache.Invalidate(cacheKeyFor(m.Bucket, m.Key))
	}
}

// LabelCount returns the cached cardinality for (graphID, label).
func (e *Engine) LabelCount(graphID [16]byte, label string) int64 {
	return e.labels.Count(graphID, label)
}

// TypeCount returns the cached cardinality for (graphID, edgeType).
func (e *Engine) TypeCount(graphID [16]byte, edgeType string) int64 {
	return e.types.Count(graphID, edgeType)
}

// Labels returns every label currently tracked for graphID.
func (e *Engine) Labels(graphID [16]byte) []string {
	ls := e.labels.Labels(graphID)
	sort.Strings(ls)
	return ls
}

// --- encoding helpers ---

func decodeChain(raw []byte) (chain, error) {
	var ch chain
	dec := gob.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&ch); err != nil {
		return nil, fmt.Errorf("decode version chain: %w", err)
	}
	return ch, nil
}

func encodeChain(ch chain) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(ch); err != nil {
		return nil, fmt.Errorf("encode version chain: %w", err)
	}
	return buf.Bytes(), nil
}

// appendVersion prepends a new version entry to the chain stored at
// (bucket, key) within an open bbolt write transaction.
func appendVersion(tx *bolt.Tx, bucketName, key []byte, commitTS uint64, tombstone bool, value []byte) error {
	b := tx.Bucket(bucketName)
	var ch chain
	if raw := b.Get(key); raw != nil {
		var err error
		ch, err = decodeChain(raw)
		if err != nil {
			return err
		}
	}
	ch = append(chain{{CommitTS: commitTS, Tombstone: tombstone, Payload: value}}, ch...)
	encoded, err := encodeChain(ch)
	if err != nil {
		return err
	}
	return b.Put(key, encoded)
}

func putCheckpoint(tx *bolt.Tx, ts uint64) error {
	return tx.Bucket(bucketMeta).Put(metaCheckpointKey, encodeUint64(ts))
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// cacheKeyFor keys the record cache by (bucket, key) alone: the cached value
// is the key's whole version chain, valid for every snapshot until the next
// write to the key invalidates it (invalidateCache).
func cacheKeyFor(bucket, key []byte) string {
	return fmt.Sprintf("%s:%x", bucket, key)
}

func splitLabelKey(key []byte) (graphID [16]byte, label string, nodeID [16]byte) {
	copy(graphID[:], key[:16])
	rest := key[16:]
	sep := bytes.IndexByte(rest, 0)
	label = string(rest[:sep])
	copy(nodeID[:], rest[sep+1:])
	return
}

func splitTypeKey(key []byte) (graphID [16]byte, typ string, edgeID [16]byte) {
	copy(graphID[:], key[:16])
	rest := key[16:]
	sep := bytes.IndexByte(rest, 0)
	typ = string(rest[:sep])
	copy(edgeID[:], rest[sep+1:])
	return
}
