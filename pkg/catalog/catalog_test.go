package catalog

import (
	"testing"

	"github.com/graphlite/graphlite/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	engine, err := storage.Open(t.TempDir(), storage.Options{CacheSize: 100, WALSegmentBytes: 1 << 20, FsyncEveryApply: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return New(engine)
}

func TestCreateAndDropSchema(t *testing.T) {
	c := openTestCatalog(t)
	require.NoError(t, c.CreateSchema("/social"))

	_, err := c.GetSchema("/social")
	require.NoError(t, err)

	require.Error(t, c.CreateSchema("/social"), "duplicate schema must fail")

	require.NoError(t, c.CreateGraph("/social", "main"))
	require.Error(t, c.DropSchema("/social", false), "non-empty schema without cascade must fail")
	require.NoError(t, c.DropSchema("/social", true))

	_, err = c.GetSchema("/social")
	assert.Error(t, err)
}

func TestGraphPathAndStats(t *testing.T) {
	c := openTestCatalog(t)
	require.NoError(t, c.CreateSchema("/social"))
	require.NoError(t, c.CreateGraph("/social", "main"))

	graphs, err := c.ListGraphs("/social")
	require.NoError(t, err)
	require.Len(t, graphs, 1)
	assert.Equal(t, "/social/main", graphs[0].Path())

	stats, err := c.Stats("/social/main")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.NodeCount)
}

func TestUserAuthenticationAndPrivileges(t *testing.T) {
	c := openTestCatalog(t)
	require.NoError(t, c.CreateUser("alice", "hunter2"))
	require.NoError(t, c.CreateRole("writer"))
	require.NoError(t, c.Grant("writer", PrivCreate|PrivRead|PrivUpdate, ScopeGraph))
	require.NoError(t, c.AssignRole("alice", "writer"))

	user, err := c.Authenticate("alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Name)

	_, err = c.Authenticate("alice", "wrong-password")
	assert.Error(t, err)

	require.NoError(t, c.Authorize(user, PrivRead, ScopeGraph))
	assert.Error(t, c.Authorize(user, PrivDelete, ScopeGraph), "writer role was never granted DELETE")

	require.NoError(t, c.SetEnabled("alice", false))
	_, err = c.Authenticate("alice", "hunter2")
	assert.Error(t, err, "disabled user must not authenticate")
}

func TestVersionMarkerInitAndReject(t *testing.T) {
	c := openTestCatalog(t)
	require.NoError(t, c.CheckOrInitVersion())
	require.NoError(t, c.CheckOrInitVersion(), "re-checking an up to date marker is a no-op")

	var v versionMarker
	ok, err := c.get(kindVersion, "db", &v)
	require.NoError(t, err)
	require.True(t, ok)
	v.Major = CurrentMajorVersion + 1
	require.NoError(t, c.put(kindVersion, "db", &v))

	err = c.CheckOrInitVersion()
	assert.Error(t, err)
}
