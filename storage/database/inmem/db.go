// Package inmemdb keeps every table in memory. It backs tests and database-less development runs.
package inmemdb

import (
	"context"
	"strings"
	"sync"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/attachment"
	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/idempotency"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/user"
)

type (
	tables struct {
		users        map[string]user.User
		schools      map[string]user.School
		sessions     map[string]booking.Session
		availability map[string][]booking.Window // {tutorID|date: windows}
		accounts     map[string]ledger.Account
		entries      []ledger.Entry
		keys         map[string]idempotency.Record // {ownerID|key: record}
		attachments  map[string]attachment.Attachment
	}

	// DB is an in-memory database. Transactions are serialized; a failed one replays its own undo log.
	DB struct {
		mu   sync.RWMutex // guards t
		txMu sync.Mutex
		t    tables
	}

	// txn is the executor handed to transactional callbacks. Writes made through it record how to undo them.
	txn struct {
		// nil: repositories never query through it
		core.DBExecutor

		undo []func()
	}
)

var _ core.Transactor = (*DB)(nil)

func NewDB() *DB {
	return &DB{t: tables{
		users:        make(map[string]user.User),
		schools:      make(map[string]user.School),
		sessions:     make(map[string]booking.Session),
		availability: make(map[string][]booking.Window),
		accounts:     make(map[string]ledger.Account),
		keys:         make(map[string]idempotency.Record),
		attachments:  make(map[string]attachment.Attachment),
	}}
}

// RunInTx runs fn alone. Repository writes must be given fn's executor to be rolled back.
func (db *DB) RunInTx(ctx context.Context, fn func(exec core.DBExecutor) error) (err error) {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	tx := &txn{}
	defer func() {
		if p := recover(); p != nil {
			db.rollback(tx)
			panic(p)
		}
		if err != nil {
			db.rollback(tx)
		}
	}()
	return fn(tx)
}

// Reset empties every table.
func (db *DB) Reset() {
	fresh := NewDB()
	db.mu.Lock()
	db.t = fresh.t
	db.mu.Unlock()
}

func (db *DB) rollback(tx *txn) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

// logUndo records undo against the transaction in exec, if any. Callers hold mu.
func logUndo(exec []core.DBExecutor, undo func()) {
	if len(exec) == 0 {
		return
	}
	if tx, ok := exec[0].(*txn); ok {
		tx.undo = append(tx.undo, undo)
	}
}

// put sets m[key] = val, logging how to restore the previous value.
func put[V any](exec []core.DBExecutor, m map[string]V, key string, val V) {
	prev, existed := m[key]
	logUndo(exec, func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
	m[key] = val
}

// del removes m[key], logging how to restore it.
func del[V any](exec []core.DBExecutor, m map[string]V, key string) {
	prev, existed := m[key]
	if !existed {
		return
	}
	logUndo(exec, func() { m[key] = prev })
	delete(m, key)
}

func compositeKey(parts ...string) string {
	return strings.Join(parts, "|")
}
