// Package planner turns a pkg/lang AST into an optimized physical plan: a
// tree of LogicalNode values rewritten to a fixed point by a small rule set,
// then lowered to a PhysicalNode tree that pkg/executor builds operators
// from.
package planner

import (
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/types"
)

// Expr reuses the parser's expression AST unchanged; the planner never
// needs its own expression representation since pkg/executor evaluates
// lang.Expr nodes directly against a row.
type Expr = lang.Expr

// BoundVar names a variable carried by a plan node's output schema.
type BoundVar struct {
	Name string
}

// NodeKind tags the closed variant set of logical/physical operators: a
// bounded tagged union, not virtual inheritance.
type NodeKind int

const (
	KindScan NodeKind = iota
	KindExpand
	KindFilter
	KindProject
	KindAggregate
	KindJoin
	KindSetOp
	KindOrder
	KindSkip
	KindLimit
	KindInsert
	KindDelete
	KindSet
	KindDDL
	KindDistinct
	KindCall
)

// LogicalNode is one node of the logical plan tree. Children live in Inputs:
// one entry for linear operators, two for Join and SetOp (left, right).
type LogicalNode struct {
	Kind   NodeKind
	Schema []BoundVar
	Inputs []*LogicalNode

	// Scan
	Variable string
	Label    string // empty means full scan

	// Expand
	FromVar   string
	EdgeVar   string
	EdgeType  string // empty means any type
	Direction types.Direction
	ToVar     string

	// Filter predicate; label-pattern WHERE, property shorthand and trailing
	// WHERE all become Filter nodes, so Scan never carries one
	Predicate Expr

	// Project / Return
	Projections []ProjectItem

	// Aggregate
	GroupKeys  []Expr
	Aggregates []AggregateItem

	// SetOp
	SetOpKind SetOpKind
	SetOpAll  bool

	// Order
	OrderBy []OrderItem

	// Skip / Limit
	Count Expr

	// DML
	InsertPatterns []InsertPattern
	DeleteTargets  []Expr
	SetItems       []SetAssignment

	// DDL
	DDL DDLOp

	// Call
	Procedure string
	CallArgs  []Expr

	Distinct bool
}

type ProjectItem struct {
	Expr  Expr
	Alias string
}

type AggregateItem struct {
	Func  string
	Arg   Expr
	Alias string
}

type SetOpKind int

const (
	SetOpUnion SetOpKind = iota
	SetOpIntersect
	SetOpExcept
)

type OrderItem struct {
	Expr       Expr
	Descending bool
}

type InsertPattern struct {
	Nodes []InsertNode
	Edges []InsertEdge // Edges[i] connects Nodes[i] -> Nodes[i+1]
}

type InsertNode struct {
	Variable   string
	Labels     []string
	Properties map[string]Expr
}

type InsertEdge struct {
	Variable   string
	Type       string
	Direction  types.Direction
	Properties map[string]Expr
}

type SetAssignment struct {
	TargetVar string
	Key       string
	Value     Expr
}

type DDLKind int

const (
	DDLCreateSchema DDLKind = iota
	DDLDropSchema
	DDLCreateGraph
	DDLDropGraph
	DDLCreateUser
	DDLSetPassword
	DDLEnableUser
	DDLGrant
	DDLRevoke
)

type DDLOp struct {
	Kind       DDLKind
	Path       string
	Cascade    bool
	Schema     string
	Name       string
	Password   string
	Enabled    bool
	Privileges []string
	Scope      string
	Role       string
}
