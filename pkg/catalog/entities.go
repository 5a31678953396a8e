// Package catalog is GraphLite's authoritative metadata store: schemas,
// graphs, labels, property metadata, users, roles, and privileges.
// It persists into the same storage.Engine as graph data, under the
// reserved "catalog" bucket, so catalog writes share the graph data's WAL.
package catalog

import "time"

// Privilege is a bitset of CREATE/READ/UPDATE/DELETE rights.
type Privilege uint8

const (
	PrivCreate Privilege = 1 << iota
	PrivRead
	PrivUpdate
	PrivDelete
)

func (p Privilege) Has(bit Privilege) bool { return p&bit != 0 }

// Scope names the object kind a privilege grant applies to.
type Scope string

const (
	ScopeSchema Scope = "schema"
	ScopeGraph  Scope = "graph"
	ScopeSystem Scope = "system"
)

// Schema is the top-level catalog namespace entry, path like "/name".
type Schema struct {
	Path      string
	CreatedAt time.Time
	Owner     string
}

// Graph belongs to a schema, path like "/schema/graph".
type Graph struct {
	Schema    string
	Name      string
	CreatedAt time.Time
	Owner     string
	// NodeCountHint/EdgeCountHint are stored with the graph row but no code
	// path updates them after creation, so they stay zero; Stats does not
	// read them and counts storage.Engine's label postings instead.
	NodeCountHint int64
	EdgeCountHint int64
}

// Path returns the fully qualified "/schema/graph" address.
func (g *Graph) Path() string { return g.Schema + "/" + g.Name }

// Role carries a name and a privilege bitset per scope.
type Role struct {
	Name       string
	Privileges map[Scope]Privilege
}

// User carries credentials and role membership.
type User struct {
	Name         string
	PasswordHash []byte // argon2id
	Salt         []byte
	Roles        []string
	Enabled      bool
}

// GraphStats are the cardinality hints the planner consumes for physical
// plan selection.
type GraphStats struct {
	NodeCount   int64
	EdgeCount   int64
	LabelCounts map[string]int64
	TypeCounts  map[string]int64
}
