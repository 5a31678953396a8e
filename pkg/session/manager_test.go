package session

import (
	"testing"
	"time"

	"github.com/graphlite/graphlite/pkg/catalog"
	"github.com/graphlite/graphlite/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) (*catalog.Catalog, *storage.Engine) {
	t.Helper()
	engine, err := storage.Open(t.TempDir(), storage.Options{CacheSize: 100, WALSegmentBytes: 1 << 20, FsyncEveryApply: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	cat := catalog.New(engine)
	require.NoError(t, cat.CreateUser("alice", "hunter2"))
	return cat, engine
}

func TestCreateSessionAuthFailure(t *testing.T) {
	cat, _ := newTestEnv(t)
	mgr := NewManager()

	_, err := mgr.Create(cat, "alice", "wrong")
	assert.Error(t, err)
	assert.Equal(t, 0, mgr.Count())
}

func TestCloseSessionRollsBackActiveTransaction(t *testing.T) {
	cat, engine := newTestEnv(t)
	mgr := NewManager()

	s, err := mgr.Create(cat, "alice", "hunter2")
	require.NoError(t, err)

	_, err = s.Begin(engine, 0)
	require.NoError(t, err)
	assert.True(t, s.HasActiveTransaction())

	require.NoError(t, mgr.Close(s.ID))
	assert.False(t, s.HasActiveTransaction())

	_, err = mgr.Get(s.ID)
	assert.Error(t, err, "closed session must be gone from the registry")
}

func TestBeginWhileActiveFails(t *testing.T) {
	cat, engine := newTestEnv(t)
	mgr := NewManager()
	s, err := mgr.Create(cat, "alice", "hunter2")
	require.NoError(t, err)

	_, err = s.Begin(engine, 0)
	require.NoError(t, err)
	_, err = s.Begin(engine, 0)
	assert.Error(t, err, "nested BEGIN must fail")
}

func TestCommitEmptyWriteSetIsNoop(t *testing.T) {
	cat, engine := newTestEnv(t)
	mgr := NewManager()
	s, err := mgr.Create(cat, "alice", "hunter2")
	require.NoError(t, err)

	_, err = s.Begin(engine, 0)
	require.NoError(t, err)
	_, err = s.Commit(engine)
	require.NoError(t, err)
	assert.False(t, s.HasActiveTransaction())
}

func TestTransactionCancellationAtDeadline(t *testing.T) {
	cat, engine := newTestEnv(t)
	mgr := NewManager()
	s, err := mgr.Create(cat, "alice", "hunter2")
	require.NoError(t, err)

	txn, err := s.Begin(engine, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, txn.Cancelled())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, txn.Cancelled(), "deadline must trip cancellation checked at operator boundaries")
}
