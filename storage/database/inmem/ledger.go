package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/ledger"
)

type ledgerRepository struct {
	db *DB
}

var _ ledger.Repository = (*ledgerRepository)(nil)

func NewLedgerRepository(db *DB) ledger.Repository {
	return &ledgerRepository{db: db}
}

func (repo *ledgerRepository) LockAccount(_ context.Context, ownerID string, exec ...core.DBExecutor) (ledger.Account, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	acc, ok := repo.db.t.accounts[ownerID]
	if !ok {
		now := time.Now().UTC()
		acc = ledger.Account{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
		put(exec, repo.db.t.accounts, ownerID, acc)
	}
	return acc, nil
}

func (repo *ledgerRepository) GetAccount(_ context.Context, ownerID string, _ ...core.DBExecutor) (ledger.Account, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if acc, ok := repo.db.t.accounts[ownerID]; ok {
		return acc, nil
	}
	return ledger.Account{}, ledger.ErrAccountNotFound
}

func (repo *ledgerRepository) QueryAccounts(_ context.Context, _ ...core.DBExecutor) ([]ledger.Account, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	accounts := make([]ledger.Account, 0, len(repo.db.t.accounts))
	for _, acc := range repo.db.t.accounts {
		accounts = append(accounts, acc)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].OwnerID < accounts[j].OwnerID })
	return accounts, nil
}

func (repo *ledgerRepository) SetBalance(_ context.Context, ownerID string, balance int, at time.Time, exec ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	acc, ok := repo.db.t.accounts[ownerID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acc.Balance, acc.UpdatedAt = balance, at
	put(exec, repo.db.t.accounts, ownerID, acc)
	return nil
}

func (repo *ledgerRepository) InsertEntry(_ context.Context, entry ledger.Entry, exec ...core.DBExecutor) (ledger.Entry, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if entry.Reference != "" {
		for _, e := range repo.db.t.entries {
			if e.Kind == entry.Kind && e.Reference == entry.Reference {
				return ledger.Entry{}, ledger.ErrDuplicateReference
			}
		}
	}
	entry.ID = uuid.NewString()
	repo.db.t.entries = append(repo.db.t.entries, entry)
	logUndo(exec, func() { repo.db.t.entries = removeEntry(repo.db.t.entries, entry.ID) })
	return entry, nil
}

// LockReference is a no-op: transactions are already serialized.
func (repo *ledgerRepository) LockReference(context.Context, ledger.EntryKind, string, ...core.DBExecutor) error {
	return nil
}

func (repo *ledgerRepository) GetEntryByReference(_ context.Context, kind ledger.EntryKind, reference string, _ ...core.DBExecutor) (ledger.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, e := range repo.db.t.entries {
		if e.Kind == kind && e.Reference == reference {
			return e, nil
		}
	}
	return ledger.Entry{}, ledger.ErrEntryNotFound
}

// QueryEntries returns the owner's entries, newest first.
func (repo *ledgerRepository) QueryEntries(_ context.Context, ownerID string, _ ...core.DBExecutor) ([]ledger.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	entries := make([]ledger.Entry, 0)
	for i := len(repo.db.t.entries) - 1; i >= 0; i-- {
		if e := repo.db.t.entries[i]; e.OwnerID == ownerID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (repo *ledgerRepository) SumEntries(_ context.Context, ownerID string, _ ...core.DBExecutor) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var sum int
	for _, e := range repo.db.t.entries {
		if e.OwnerID == ownerID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func removeEntry(entries []ledger.Entry, id string) []ledger.Entry {
	for i, e := range entries {
		if e.ID == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}
