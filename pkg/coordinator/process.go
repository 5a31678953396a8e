package coordinator

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/graphlite/graphlite/pkg/catalog"
	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/executor"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/log"
	"github.com/graphlite/graphlite/pkg/metrics"
	"github.com/graphlite/graphlite/pkg/planner"
	"github.com/graphlite/graphlite/pkg/session"
	"github.com/graphlite/graphlite/pkg/types"
)

// Process parses, plans, and executes one statement under the session's
// transaction, auto-beginning and auto-committing when the session has
// none. Parse and validation errors never touch transaction state; runtime
// and storage errors roll the transaction back.
func (c *Coordinator) Process(query, sessionID string) (*QueryResult, error) {
	timer := metrics.NewTimer()

	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	stmt, err := parse(query)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("parse", "error").Inc()
		return nil, err
	}

	kind := classify(stmt)
	res, err := c.dispatch(stmt, kind, sess)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.QueriesTotal.WithLabelValues(string(kind.Kind), outcome).Inc()
	metrics.QueryDuration.WithLabelValues(string(kind.Kind)).Observe(timer.Duration().Seconds())
	if err != nil {
		stmtLog := log.WithSession(sessionID)
		stmtLog.Debug().Err(err).Msg("statement failed")
		return nil, err
	}

	res.ExecutionTimeMS = timer.Duration().Milliseconds()
	metrics.RowsReturned.Observe(float64(len(res.Rows)))
	return res, nil
}

// Validate parses the query without executing it. The verdict matches
// Process's parse phase by construction: both call parse.
func (c *Coordinator) Validate(query string) error {
	_, err := parse(query)
	return err
}

// Analyze classifies the query without executing it.
func (c *Coordinator) Analyze(query string) (*Analysis, error) {
	stmt, err := parse(query)
	if err != nil {
		return nil, err
	}
	a := classify(stmt)
	return &a, nil
}

// Explain returns the textual physical plan for the query. It lowers the
// plan without catalog statistics, so the planner's default cardinality
// estimates are used.
func (c *Coordinator) Explain(query string) (string, error) {
	stmt, err := parse(query)
	if err != nil {
		return "", err
	}
	switch stmt.(type) {
	case *lang.MatchStmt, *lang.InsertStmt, *lang.CallStmt, *lang.WithStmt, *lang.LetStmt:
		plan, err := planner.Build(stmt)
		if err != nil {
			return "", err
		}
		plan.Root = planner.Optimize(plan.Root)
		phys, err := planner.Lower(plan, nil, c.knobs)
		if err != nil {
			return "", err
		}
		return planner.Explain(phys), nil
	default:
		a := classify(stmt)
		return string(a.Kind), nil
	}
}

func parse(query string) (lang.Statement, error) {
	stmt, err := lang.Parse(query)
	if err != nil {
		return nil, errors.Wrap(errors.Parse, "parse statement", err)
	}
	return stmt, nil
}

// classify implements Analyze's statement taxonomy.
func classify(stmt lang.Statement) Analysis {
	switch s := stmt.(type) {
	case *lang.CreateSchemaStmt, *lang.DropSchemaStmt, *lang.CreateGraphStmt, *lang.DropGraphStmt:
		return Analysis{Kind: KindDDL}
	case *lang.CreateUserStmt, *lang.SetPasswordStmt, *lang.EnableUserStmt, *lang.GrantStmt, *lang.RevokeStmt:
		return Analysis{Kind: KindAdmin}
	case *lang.SessionSetSchemaStmt, *lang.SessionSetGraphStmt, *lang.BeginStmt, *lang.CommitStmt, *lang.RollbackStmt:
		return Analysis{Kind: KindAdmin, ReadOnly: true}
	case *lang.InsertStmt:
		return Analysis{Kind: KindDML}
	case *lang.MatchStmt:
		if len(s.Delete) > 0 || len(s.SetOps) > 0 || len(s.Insert) > 0 {
			return Analysis{Kind: KindDML}
		}
		return Analysis{Kind: KindSelect, ReadOnly: true}
	case *lang.WithStmt:
		return classify(s.Next)
	case *lang.LetStmt:
		return classify(s.Next)
	case *lang.CallStmt:
		return Analysis{Kind: KindSelect, ReadOnly: true}
	default:
		return Analysis{Kind: KindSelect, ReadOnly: true}
	}
}

func (c *Coordinator) dispatch(stmt lang.Statement, kind Analysis, sess *session.Session) (*QueryResult, error) {
	switch s := stmt.(type) {
	case *lang.CreateSchemaStmt, *lang.DropSchemaStmt, *lang.CreateGraphStmt, *lang.DropGraphStmt,
		*lang.CreateUserStmt, *lang.SetPasswordStmt, *lang.EnableUserStmt, *lang.GrantStmt, *lang.RevokeStmt:
		return c.execDDL(stmt, sess)
	case *lang.SessionSetSchemaStmt:
		if _, err := c.catalog.GetSchema(s.Path); err != nil {
			return nil, err
		}
		sess.CurrentSchema = s.Path
		return emptyResult(), nil
	case *lang.SessionSetGraphStmt:
		path := s.Schema + "/" + s.Name
		if _, err := c.catalog.GetGraph(path); err != nil {
			return nil, err
		}
		sess.CurrentGraph = path
		sess.CurrentSchema = s.Schema
		return emptyResult(), nil
	case *lang.BeginStmt:
		if _, err := sess.Begin(c.engine, sess.Timeout); err != nil {
			return nil, err
		}
		return emptyResult(), nil
	case *lang.CommitStmt:
		if !sess.HasActiveTransaction() {
			return nil, errors.New(errors.Validation, "COMMIT without an active transaction")
		}
		if _, err := sess.Commit(c.engine); err != nil {
			metrics.TransactionsTotal.WithLabelValues("conflict").Inc()
			return nil, err
		}
		metrics.TransactionsTotal.WithLabelValues("committed").Inc()
		return emptyResult(), nil
	case *lang.RollbackStmt:
		sess.Rollback()
		metrics.TransactionsTotal.WithLabelValues("rolled_back").Inc()
		return emptyResult(), nil
	default:
		return c.execQuery(stmt, kind, sess)
	}
}

// execDDL runs catalog mutations under the catalog's exclusive writer.
// DDL inside a user transaction is rejected outright.
func (c *Coordinator) execDDL(stmt lang.Statement, sess *session.Session) (*QueryResult, error) {
	if sess.HasActiveTransaction() {
		return nil, errors.New(errors.DDLInTransaction, "DDL is not allowed inside a transaction")
	}

	var err error
	switch s := stmt.(type) {
	case *lang.CreateSchemaStmt:
		if err = c.catalog.Authorize(sess.User, catalog.PrivCreate, catalog.ScopeSchema); err == nil {
			err = c.catalog.CreateSchema(s.Path)
		}
	case *lang.DropSchemaStmt:
		if err = c.catalog.Authorize(sess.User, catalog.PrivDelete, catalog.ScopeSchema); err == nil {
			err = c.catalog.DropSchema(s.Path, s.Cascade)
		}
	case *lang.CreateGraphStmt:
		if err = c.catalog.Authorize(sess.User, catalog.PrivCreate, catalog.ScopeGraph); err == nil {
			err = c.catalog.CreateGraph(s.Schema, s.Name)
		}
	case *lang.DropGraphStmt:
		if err = c.catalog.Authorize(sess.User, catalog.PrivDelete, catalog.ScopeGraph); err == nil {
			err = c.catalog.DropGraph(s.Schema + "/" + s.Name)
		}
	case *lang.CreateUserStmt:
		if err = c.catalog.Authorize(sess.User, catalog.PrivCreate, catalog.ScopeSystem); err == nil {
			err = c.catalog.CreateUser(s.Name, s.Password)
		}
	case *lang.SetPasswordStmt:
		if err = c.catalog.Authorize(sess.User, catalog.PrivUpdate, catalog.ScopeSystem); err == nil {
			err = c.catalog.SetPassword(s.Name, s.Password)
		}
	case *lang.EnableUserStmt:
		if err = c.catalog.Authorize(sess.User, catalog.PrivUpdate, catalog.ScopeSystem); err == nil {
			err = c.catalog.SetEnabled(s.Name, s.Enabled)
		}
	case *lang.GrantStmt:
		if err = c.catalog.Authorize(sess.User, catalog.PrivCreate, catalog.ScopeSystem); err == nil {
			err = c.applyGrant(s.Privileges, s.Scope, s.Role, true)
		}
	case *lang.RevokeStmt:
		if err = c.catalog.Authorize(sess.User, catalog.PrivCreate, catalog.ScopeSystem); err == nil {
			err = c.applyGrant(s.Privileges, s.Scope, s.Role, false)
		}
	default:
		err = errors.Newf(errors.Internal, "unhandled DDL statement %T", stmt)
	}
	if err != nil {
		return nil, err
	}
	return emptyResult(), nil
}

func (c *Coordinator) applyGrant(privNames []string, scopeName, role string, grant bool) error {
	var priv catalog.Privilege
	for _, name := range privNames {
		switch strings.ToUpper(name) {
		case "CREATE":
			priv |= catalog.PrivCreate
		case "READ":
			priv |= catalog.PrivRead
		case "UPDATE":
			priv |= catalog.PrivUpdate
		case "DELETE":
			priv |= catalog.PrivDelete
		default:
			return errors.Newf(errors.Validation, "unknown privilege %q", name)
		}
	}
	var scope catalog.Scope
	switch strings.ToLower(scopeName) {
	case "schema":
		scope = catalog.ScopeSchema
	case "graph":
		scope = catalog.ScopeGraph
	case "system":
		scope = catalog.ScopeSystem
	default:
		return errors.Newf(errors.Validation, "unknown scope %q", scopeName)
	}
	if grant {
		return c.catalog.Grant(role, priv, scope)
	}
	return c.catalog.Revoke(role, priv, scope)
}

// execQuery runs the parse → plan → execute pipeline for MATCH, INSERT,
// CALL, WITH, and LET statements.
func (c *Coordinator) execQuery(stmt lang.Statement, kind Analysis, sess *session.Session) (*QueryResult, error) {
	needsGraph := statementNeedsGraph(stmt)
	if needsGraph && sess.CurrentGraph == "" {
		return nil, errors.New(errors.NoCurrentGraph, "no current graph; run SESSION SET GRAPH first")
	}

	if err := c.authorizeQuery(kind, stmt, sess); err != nil {
		return nil, err
	}

	plan, err := planner.Build(stmt)
	if err != nil {
		return nil, err
	}
	plan.Root = planner.Optimize(plan.Root)

	var stats *catalog.GraphStats
	if sess.CurrentGraph != "" {
		stats, _ = c.catalog.Stats(sess.CurrentGraph)
	}
	phys, err := planner.Lower(plan, stats, c.knobs)
	if err != nil {
		return nil, err
	}

	// Auto-begin when the session has no transaction; remember whether we
	// own it so only implicit transactions auto-commit.
	implicit := !sess.HasActiveTransaction()
	if implicit {
		if _, err := sess.Begin(c.engine, sess.Timeout); err != nil {
			return nil, err
		}
	}
	txn := sess.Transaction()

	ec := &executor.Context{
		Ctx:     context.Background(),
		Engine:  c.engine,
		View:    c.engine.ViewAt(txn.SnapshotTS, txn.Mutations),
		GraphID: catalog.GraphIDFor(sess.CurrentGraph),
		Graph:   sess.CurrentGraph,
		Txn:     txn,
		Catalog: c.catalog,
		Knobs:   c.knobs,
		TempDir: filepath.Join(c.dir, "tmp"),
	}
	if err := executor.EvalBindings(ec, plan.Bindings); err != nil {
		return nil, c.failQuery(sess, implicit, err)
	}

	op, err := executor.Build(ec, phys)
	if err != nil {
		return nil, c.failQuery(sess, implicit, err)
	}
	rows, err := executor.Drain(op)
	if err != nil {
		return nil, c.failQuery(sess, implicit, err)
	}

	if implicit {
		if _, err := sess.Commit(c.engine); err != nil {
			metrics.TransactionsTotal.WithLabelValues("conflict").Inc()
			return nil, err
		}
		metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	}

	variables := make([]string, 0, len(phys.Schema))
	for _, v := range phys.Schema {
		variables = append(variables, v.Name)
	}
	if len(variables) == 0 {
		variables = nil
	}
	res := resultFromRows(rows, variables)
	res.RowsAffected = ec.RowsAffected
	res.Warnings = ec.Warnings
	return res, nil
}

// failQuery handles mid-execution failures: kinds that
// roll back do so on both implicit and explicit transactions; an explicit
// transaction is left usable for kinds that do not.
func (c *Coordinator) failQuery(sess *session.Session, implicit bool, err error) error {
	if errors.RollsBackTransaction(errors.KindOf(err)) || implicit {
		sess.Rollback()
		metrics.TransactionsTotal.WithLabelValues("rolled_back").Inc()
	}
	return err
}

func (c *Coordinator) authorizeQuery(kind Analysis, stmt lang.Statement, sess *session.Session) error {
	switch kind.Kind {
	case KindSelect:
		return c.catalog.Authorize(sess.User, catalog.PrivRead, catalog.ScopeGraph)
	case KindDML:
		if m, ok := stmt.(*lang.MatchStmt); ok {
			switch {
			case len(m.Delete) > 0:
				return c.catalog.Authorize(sess.User, catalog.PrivDelete, catalog.ScopeGraph)
			case len(m.Insert) > 0:
				return c.catalog.Authorize(sess.User, catalog.PrivCreate, catalog.ScopeGraph)
			default:
				return c.catalog.Authorize(sess.User, catalog.PrivUpdate, catalog.ScopeGraph)
			}
		}
		return c.catalog.Authorize(sess.User, catalog.PrivCreate, catalog.ScopeGraph)
	default:
		return nil
	}
}

// statementNeedsGraph reports whether executing stmt requires a current
// graph.
func statementNeedsGraph(stmt lang.Statement) bool {
	switch s := stmt.(type) {
	case *lang.MatchStmt, *lang.InsertStmt:
		return true
	case *lang.WithStmt:
		return statementNeedsGraph(s.Next)
	case *lang.LetStmt:
		return statementNeedsGraph(s.Next)
	case *lang.CallStmt:
		return strings.EqualFold(s.Procedure, "labels")
	default:
		return false
	}
}

func emptyResult() *QueryResult {
	return &QueryResult{Variables: []string{}, Rows: []map[string]types.Value{}}
}
