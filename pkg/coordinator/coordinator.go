// Package coordinator is GraphLite's single public façade: one
// long-lived Coordinator bound to one database directory, binding parse →
// plan → execute → result. Hosts never construct the subsystems directly;
// Open wires exactly one storage engine, catalog, and session manager and
// owns them for the process lifetime.
package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/graphlite/graphlite/pkg/catalog"
	"github.com/graphlite/graphlite/pkg/config"
	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/log"
	"github.com/graphlite/graphlite/pkg/metrics"
	"github.com/graphlite/graphlite/pkg/session"
	"github.com/graphlite/graphlite/pkg/storage"
)

// Version is the GraphLite release string returned by
// Coordinator.Version.
const Version = "0.9.0"

// Coordinator binds a database directory to its in-memory subsystems.
type Coordinator struct {
	dir       string
	knobs     config.Knobs
	engine    *storage.Engine
	catalog   *catalog.Catalog
	sessions  *session.Manager
	collector *metrics.Collector
}

// Open opens or creates the database layout at dir, replays the WAL, and
// rebuilds in-memory caches. The layout is:
//
//	dir/
//	  catalog/       created but unused (the WAL checkpoint lives in
//	                 graphlite.db's meta bucket)
//	  graphs/        reserved for per-graph segmentation
//	  wal/           write-ahead log segments
//	  tmp/           sort spill files
//	  graphlite.db   unified bbolt key-value file
func Open(dir string, opts ...config.Option) (*Coordinator, error) {
	knobs := config.Default()
	for _, opt := range opts {
		opt(&knobs)
	}

	for _, sub := range []string{"", "catalog", "graphs", "wal", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errors.Wrap(errors.CannotOpen, "create database directory", err)
		}
	}

	engine, err := storage.Open(dir, storage.Options{
		CacheSize:       knobs.CacheSize,
		WALSegmentBytes: knobs.WALSegmentBytes,
		FsyncEveryApply: knobs.WALFsyncPolicy != config.FsyncNever,
	})
	if err != nil {
		return nil, err
	}

	cat := catalog.New(engine)
	if err := cat.CheckOrInitVersion(); err != nil {
		engine.Close()
		return nil, err
	}

	c := &Coordinator{
		dir:      dir,
		knobs:    knobs,
		engine:   engine,
		catalog:  cat,
		sessions: session.NewManager(),
	}
	if err := c.bootstrap(); err != nil {
		engine.Close()
		return nil, err
	}

	c.collector = metrics.NewCollector(c.observe)
	c.collector.Start()

	compLog := log.WithComponent("coordinator")
	compLog.Info().Str("dir", dir).Msg("database opened")
	return c, nil
}

// bootstrap seeds a fresh database with the admin user and role so the first
// session can be created at all. Existing databases are left untouched.
func (c *Coordinator) bootstrap() error {
	users, err := c.catalog.ListUsers()
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	if err := c.catalog.CreateUser("admin", ""); err != nil {
		return err
	}
	all := catalog.PrivCreate | catalog.PrivRead | catalog.PrivUpdate | catalog.PrivDelete
	for _, scope := range []catalog.Scope{catalog.ScopeSchema, catalog.ScopeGraph, catalog.ScopeSystem} {
		if err := c.catalog.Grant("admin", all, scope); err != nil {
			return err
		}
	}
	return c.catalog.AssignRole("admin", "admin")
}

// Close rolls back in-flight transactions, closes every session, and shuts
// the storage layer down.
func (c *Coordinator) Close() error {
	if c.collector != nil {
		c.collector.Stop()
	}
	c.sessions.CloseAll()
	return c.engine.Close()
}

// CreateSession authenticates user/password and returns the new session id.
func (c *Coordinator) CreateSession(user, password string) (string, error) {
	s, err := c.sessions.Create(c.catalog, user, password)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// CloseSession rolls back any live transaction and destroys the session.
func (c *Coordinator) CloseSession(id string) error {
	return c.sessions.Close(id)
}

// SetSessionTimeout installs the advisory statement deadline for a session;
// it triggers cancellation at the next operator boundary.
func (c *Coordinator) SetSessionTimeout(id string, timeout time.Duration) error {
	s, err := c.sessions.Get(id)
	if err != nil {
		return err
	}
	s.Timeout = timeout
	return nil
}

// Version returns the GraphLite release string.
func (c *Coordinator) Version() string {
	return fmt.Sprintf("GraphLite %s (format v%s)", Version, c.catalog.Version())
}

// observe feeds the periodic metrics collector (catalog-shape gauges).
func (c *Coordinator) observe() metrics.Snapshot {
	snap := metrics.Snapshot{NodeCounts: map[string]int64{}, EdgeCounts: map[string]int64{}}
	if schemas, err := c.catalog.ListSchemas(); err == nil {
		snap.Schemas = len(schemas)
	}
	if users, err := c.catalog.ListUsers(); err == nil {
		snap.Users = len(users)
	}
	graphs, err := c.catalog.ListGraphs("")
	if err != nil {
		return snap
	}
	snap.Graphs = len(graphs)
	for _, g := range graphs {
		if stats, err := c.catalog.Stats(g.Path()); err == nil {
			snap.NodeCounts[g.Path()] = stats.NodeCount
			snap.EdgeCounts[g.Path()] = stats.EdgeCount
		}
	}
	return snap
}
