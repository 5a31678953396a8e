package catalog

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/storage"
	"github.com/graphlite/graphlite/pkg/types"
	"golang.org/x/crypto/argon2"
)

const (
	kindSchema  = "schema"
	kindGraph   = "graph"
	kindUser    = "user"
	kindRole    = "role"
	kindVersion = "version"
)

// CurrentMajorVersion is the on-disk format's major version; opening a
// database written by a newer major version fails with IncompatibleVersion.
// Minor version bumps are accepted and upgraded in place.
const CurrentMajorVersion = 1
const CurrentMinorVersion = 0

// Catalog is the singleton metadata store owned by one coordinator.
// Read-path methods (list, get, describe, authenticate) take the shared
// reader lock; mutations take the exclusive writer lock (read/write
// discipline).
type Catalog struct {
	mu     sync.RWMutex
	engine *storage.Engine
}

// New constructs the catalog over an already-open storage engine. Never
// call this more than once per coordinator.
func New(engine *storage.Engine) *Catalog {
	return &Catalog{engine: engine}
}

func (c *Catalog) get(kind, name string, out any) (bool, error) {
	raw, found, err := c.engine.Get(storage.CatalogBucket(), storage.CatalogKey(kind, name), c.engine.Snapshot())
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Wrap(errors.Storage, "decode catalog row", err)
	}
	return true, nil
}

func (c *Catalog) put(kind, name string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(errors.Internal, "encode catalog row", err)
	}
	mut := storage.Mutation{Bucket: storage.CatalogBucket(), Key: storage.CatalogKey(kind, name), Value: payload}
	_, err = c.engine.Apply(storage.WriteBatch{TxnID: "catalog", Snapshot: c.engine.Snapshot(), Mutations: []storage.Mutation{mut}})
	if err != nil {
		return errors.Wrap(errors.Storage, "write catalog row", err)
	}
	return nil
}

func (c *Catalog) delete(kind, name string) error {
	mut := storage.Mutation{Bucket: storage.CatalogBucket(), Key: storage.CatalogKey(kind, name), Tombstone: true}
	_, err := c.engine.Apply(storage.WriteBatch{TxnID: "catalog", Snapshot: c.engine.Snapshot(), Mutations: []storage.Mutation{mut}})
	if err != nil {
		return errors.Wrap(errors.Storage, "delete catalog row", err)
	}
	return nil
}

func (c *Catalog) list(kind string, fn func(raw []byte) error) error {
	return c.engine.ScanPrefix(storage.CatalogBucket(), storage.CatalogPrefix(kind), c.engine.Snapshot(), func(_ []byte, v []byte) error {
		return fn(v)
	})
}

// --- Schemas ---

func (c *Catalog) CreateSchema(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var existing Schema
	if ok, err := c.get(kindSchema, path, &existing); err != nil {
		return err
	} else if ok {
		return errors.Newf(errors.Validation, "schema %q already exists", path)
	}
	return c.put(kindSchema, path, &Schema{Path: path, CreatedAt: types.Now()})
}

func (c *Catalog) DropSchema(path string, cascade bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !cascade {
		var hasGraphs bool
		_ = c.list(kindGraph, func(raw []byte) error {
			var g Graph
			if err := json.Unmarshal(raw, &g); err != nil {
				return err
			}
			if g.Schema == path {
				hasGraphs = true
			}
			return nil
		})
		if hasGraphs {
			return errors.Newf(errors.Validation, "schema %q is not empty; use CASCADE", path)
		}
	} else {
		var toDrop []string
		_ = c.list(kindGraph, func(raw []byte) error {
			var g Graph
			if err := json.Unmarshal(raw, &g); err != nil {
				return err
			}
			if g.Schema == path {
				toDrop = append(toDrop, g.Path())
			}
			return nil
		})
		for _, gp := range toDrop {
			if err := c.delete(kindGraph, gp); err != nil {
				return err
			}
		}
	}
	return c.delete(kindSchema, path)
}

func (c *Catalog) GetSchema(path string) (*Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var s Schema
	ok, err := c.get(kindSchema, path, &s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.Validation, "schema %q does not exist", path)
	}
	return &s, nil
}

func (c *Catalog) ListSchemas() ([]*Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Schema
	err := c.list(kindSchema, func(raw []byte) error {
		var s Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		out = append(out, &s)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, err
}

// --- Graphs ---

func (c *Catalog) CreateGraph(schema, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s Schema
	if ok, err := c.get(kindSchema, schema, &s); err != nil {
		return err
	} else if !ok {
		return errors.Newf(errors.Validation, "schema %q does not exist", schema)
	}
	g := &Graph{Schema: schema, Name: name, CreatedAt: types.Now()}
	var existing Graph
	if ok, err := c.get(kindGraph, g.Path(), &existing); err != nil {
		return err
	} else if ok {
		return errors.Newf(errors.Validation, "graph %q already exists", g.Path())
	}
	return c.put(kindGraph, g.Path(), g)
}

func (c *Catalog) DropGraph(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delete(kindGraph, path)
}

func (c *Catalog) GetGraph(path string) (*Graph, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var g Graph
	ok, err := c.get(kindGraph, path, &g)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.Validation, "graph %q does not exist", path)
	}
	return &g, nil
}

func (c *Catalog) ListGraphs(schema string) ([]*Graph, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Graph
	err := c.list(kindGraph, func(raw []byte) error {
		var g Graph
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		if schema == "" || g.Schema == schema {
			out = append(out, &g)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out, err
}

// GraphIDFor derives the stable storage.GraphID for a graph path by hashing
// it into the UUID namespace, so the same path always resolves to the same
// 128-bit identity without an extra indirection table.
func GraphIDFor(path string) types.GraphID {
	return deterministicUUID(path)
}

// Stats builds cardinality hints for the planner from the storage engine's
// label postings only. NodeCount is the sum of the per-label counts, so a
// node with several labels is counted once per label and an unlabeled node
// is not counted; TypeCounts is always empty and EdgeCount is always zero.
func (c *Catalog) Stats(graphPath string) (*GraphStats, error) {
	graphID := GraphIDFor(graphPath)
	labels := c.engine.Labels(graphID)
	lc := make(map[string]int64, len(labels))
	var nodeTotal int64
	for _, l := range labels {
		n := c.engine.LabelCount(graphID, l)
		lc[l] = n
		nodeTotal += n
	}
	return &GraphStats{NodeCount: nodeTotal, LabelCounts: lc, TypeCounts: map[string]int64{}}, nil
}

// --- Users & roles ---

func (c *Catalog) CreateUser(name, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var existing User
	if ok, err := c.get(kindUser, name, &existing); err != nil {
		return err
	} else if ok {
		return errors.Newf(errors.Validation, "user %q already exists", name)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(errors.Internal, "generate salt", err)
	}
	hash := hashPassword(password, salt)
	u := &User{Name: name, PasswordHash: hash, Salt: salt, Enabled: true}
	return c.put(kindUser, name, u)
}

func (c *Catalog) DropUser(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delete(kindUser, name)
}

func (c *Catalog) SetPassword(name, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var u User
	ok, err := c.get(kindUser, name, &u)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.Validation, "user %q does not exist", name)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(errors.Internal, "generate salt", err)
	}
	u.Salt = salt
	u.PasswordHash = hashPassword(password, salt)
	return c.put(kindUser, name, &u)
}

func (c *Catalog) SetEnabled(name string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var u User
	ok, err := c.get(kindUser, name, &u)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.Validation, "user %q does not exist", name)
	}
	u.Enabled = enabled
	return c.put(kindUser, name, &u)
}

func (c *Catalog) ListUsers() ([]*User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*User
	err := c.list(kindUser, func(raw []byte) error {
		var u User
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		out = append(out, &u)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (c *Catalog) CreateRole(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.put(kindRole, name, &Role{Name: name, Privileges: map[Scope]Privilege{}})
}

func (c *Catalog) ListRoles() ([]*Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Role
	err := c.list(kindRole, func(raw []byte) error {
		var r Role
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		out = append(out, &r)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// Grant adds priv to role's bitset for scope, creating the role if absent.
func (c *Catalog) Grant(roleName string, priv Privilege, scope Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var r Role
	ok, err := c.get(kindRole, roleName, &r)
	if err != nil {
		return err
	}
	if !ok {
		r = Role{Name: roleName, Privileges: map[Scope]Privilege{}}
	}
	if r.Privileges == nil {
		r.Privileges = map[Scope]Privilege{}
	}
	r.Privileges[scope] |= priv
	return c.put(kindRole, roleName, &r)
}

func (c *Catalog) Revoke(roleName string, priv Privilege, scope Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var r Role
	ok, err := c.get(kindRole, roleName, &r)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.Validation, "role %q does not exist", roleName)
	}
	r.Privileges[scope] &^= priv
	return c.put(kindRole, roleName, &r)
}

// AssignRole adds roleName to user's role membership.
func (c *Catalog) AssignRole(userName, roleName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var u User
	ok, err := c.get(kindUser, userName, &u)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.Validation, "user %q does not exist", userName)
	}
	for _, r := range u.Roles {
		if r == roleName {
			return nil
		}
	}
	u.Roles = append(u.Roles, roleName)
	return c.put(kindUser, userName, &u)
}

// Authenticate checks name/password with a constant-time comparison and
// returns the user on success.
func (c *Catalog) Authenticate(name, password string) (*User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var u User
	ok, err := c.get(kindUser, name, &u)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.AuthFailed, "bad credentials")
	}
	if !u.Enabled {
		return nil, errors.New(errors.UserDisabled, "user is disabled")
	}
	candidate := hashPassword(password, u.Salt)
	if subtle.ConstantTimeCompare(candidate, u.PasswordHash) != 1 {
		return nil, errors.New(errors.AuthFailed, "bad credentials")
	}
	return &u, nil
}

// Authorize checks whether user holds priv on scope through any assigned
// role, returning a Permission error if not.
func (c *Catalog) Authorize(user *User, priv Privilege, scope Scope) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, roleName := range user.Roles {
		var r Role
		ok, err := c.get(kindRole, roleName, &r)
		if err != nil {
			return err
		}
		if ok && r.Privileges[scope].Has(priv) {
			return nil
		}
	}
	return errors.Newf(errors.Permission, "user %q lacks %s privilege on %s scope", user.Name, privilegeName(priv), scope)
}

func privilegeName(p Privilege) string {
	names := []string{}
	if p.Has(PrivCreate) {
		names = append(names, "CREATE")
	}
	if p.Has(PrivRead) {
		names = append(names, "READ")
	}
	if p.Has(PrivUpdate) {
		names = append(names, "UPDATE")
	}
	if p.Has(PrivDelete) {
		names = append(names, "DELETE")
	}
	return strings.Join(names, "|")
}

// hashPassword derives an argon2id key.
func hashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

// --- version marker ---

type versionMarker struct {
	Major int
	Minor int
}

// CheckOrInitVersion reads the stored version marker, initializing it to
// CurrentMajorVersion/CurrentMinorVersion on a fresh database. A stored
// major version newer than CurrentMajorVersion fails with
// IncompatibleVersion; a newer minor version is accepted in place.
func (c *Catalog) CheckOrInitVersion() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var v versionMarker
	ok, err := c.get(kindVersion, "db", &v)
	if err != nil {
		return err
	}
	if !ok {
		return c.put(kindVersion, "db", &versionMarker{Major: CurrentMajorVersion, Minor: CurrentMinorVersion})
	}
	if v.Major > CurrentMajorVersion {
		return errors.Newf(errors.IncompatibleVersion, "database format v%d.%d is newer than this build (v%d.%d)", v.Major, v.Minor, CurrentMajorVersion, CurrentMinorVersion)
	}
	if v.Minor < CurrentMinorVersion {
		return c.put(kindVersion, "db", &versionMarker{Major: CurrentMajorVersion, Minor: CurrentMinorVersion})
	}
	return nil
}

func (c *Catalog) Version() string {
	return fmt.Sprintf("%d.%d", CurrentMajorVersion, CurrentMinorVersion)
}
