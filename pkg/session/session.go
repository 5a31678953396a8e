// Package session implements GraphLite's session and transaction manager
//: session lifecycle, per-session transaction state, and the
// snapshot/write-set bookkeeping that the executor's DML operators stage
// into before a commit reaches pkg/storage.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/graphlite/graphlite/pkg/catalog"
	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/storage"
)

// State is a transaction's position in its lifecycle.
type State int

const (
	None State = iota
	Active
	Committing
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case None:
		return "None"
	case Active:
		return "Active"
	case Committing:
		return "Committing"
	case Committed:
		return "Committed"
	case RolledBack:
		return "RolledBack"
	default:
		return "Unknown"
	}
}

// Transaction carries a snapshot timestamp and the buffered write set a
// commit applies atomically. Reads issued under the transaction
// overlay pending writes on top of the snapshot so a session observes its
// own writes before commit.
type Transaction struct {
	SnapshotTS uint64
	Mutations  []storage.Mutation
	State      State
	Deadline   time.Time

	cancel context.CancelFunc
	ctx    context.Context
}

// Cancelled reports whether the transaction's context has been cancelled or
// its deadline has passed, checked at operator boundaries.
func (t *Transaction) Cancelled() bool {
	if t.ctx == nil {
		return false
	}
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Stage appends mutations to the transaction's write set without touching
// storage; nothing is durable until Commit.
func (t *Transaction) Stage(muts ...storage.Mutation) {
	t.Mutations = append(t.Mutations, muts...)
}

// Session carries {id, user, current schema, current graph, optional
// active_tx}. All mutating methods require the caller to hold the
// returned handle exclusively for the duration of one process() call.
type Session struct {
	ID            string
	User          *catalog.User
	CurrentSchema string
	CurrentGraph  string
	CreatedAt     time.Time

	// Timeout is the advisory wall-clock deadline applied to each
	// transaction begun on this session; zero means none.
	Timeout time.Duration

	mu   sync.Mutex
	txn  *Transaction
	done bool
}

// HasActiveTransaction reports whether the session currently owns a live
// transaction.
func (s *Session) HasActiveTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txn != nil && s.txn.State == Active
}

// Begin opens a new transaction over a fresh snapshot. Fails if one is
// already active; nested BEGIN is not supported.
func (s *Session) Begin(engine *storage.Engine, deadline time.Duration) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn != nil && s.txn.State == Active {
		return nil, errors.New(errors.Validation, "a transaction is already active on this session")
	}
	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, deadline)
	}
	t := &Transaction{SnapshotTS: engine.Snapshot(), State: Active, ctx: ctx, cancel: cancel}
	s.txn = t
	return t, nil
}

// Commit applies the active transaction's write set to engine as a single
// batch, durable under one WAL append. On conflict the transaction
// is marked RolledBack, mirroring the write-set-discard path, and the
// storage Conflict error is returned unwrapped to the caller.
func (s *Session) Commit(engine *storage.Engine) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil || s.txn.State != Active {
		return 0, errors.New(errors.Internal, "commit called with no active transaction")
	}
	s.txn.State = Committing
	if s.txn.cancel != nil {
		s.txn.cancel()
	}
	if len(s.txn.Mutations) == 0 {
		s.txn.State = Committed
		ts := s.txn.SnapshotTS
		s.txn = nil
		return ts, nil
	}
	ts, err := engine.Apply(storage.WriteBatch{TxnID: s.ID, Snapshot: s.txn.SnapshotTS, Mutations: s.txn.Mutations})
	if err != nil {
		s.txn.State = RolledBack
		s.txn = nil
		return 0, err
	}
	s.txn.State = Committed
	s.txn = nil
	return ts, nil
}

// Rollback discards the active transaction's write set. A no-op if there is
// none, so close_session can call it unconditionally.
func (s *Session) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return
	}
	if s.txn.cancel != nil {
		s.txn.cancel()
	}
	s.txn.State = RolledBack
	s.txn = nil
}

// Transaction returns the active transaction, or nil if none.
func (s *Session) Transaction() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txn
}
