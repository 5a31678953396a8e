package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, 1<<20)
	require.NoError(t, err)

	rec1 := Record{TxnID: "t1", Timestamp: 1, Ops: []Op{{Bucket: []byte("nodes"), Key: []byte("k1"), Value: []byte("v1")}}}
	rec2 := Record{TxnID: "t2", Timestamp: 2, Ops: []Op{{Bucket: []byte("nodes"), Key: []byte("k2"), Tombstone: true}}}

	require.NoError(t, w.Append(rec1, true))
	require.NoError(t, w.Append(rec2, true))
	require.NoError(t, w.Close())

	var got []Record
	require.NoError(t, Replay(dir, func(r Record) error {
		got = append(got, r)
		return nil
	}))

	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].TxnID)
	assert.Equal(t, uint64(1), got[0].Timestamp)
	assert.Equal(t, "t2", got[1].TxnID)
	assert.True(t, got[1].Ops[0].Tombstone)
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 64) // tiny segment size forces rotation quickly
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		rec := Record{TxnID: "t", Timestamp: uint64(i + 1), Ops: []Op{{Bucket: []byte("nodes"), Key: []byte("k"), Value: []byte("some-value-padding")}}}
		require.NoError(t, w.Append(rec, false))
	}
	require.NoError(t, w.Close())

	segs, err := segmentFiles(dir)
	require.NoError(t, err)
	assert.Greater(t, len(segs), 1, "expected segment rotation with a tiny segment size")

	var count int
	require.NoError(t, Replay(dir, func(r Record) error { count++; return nil }))
	assert.Equal(t, 20, count)
}
