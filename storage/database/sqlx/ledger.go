package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/ledger"
)

const (
	accountColumns = `owner_id, balance, created_at, updated_at`
	entryColumns   = `id, owner_id, kind, amount, balance_after, session_id, reference, note, created_at`

	entryReferenceConstraint = "ledger_entry_reference_uniq"
)

type accountRow struct {
	OwnerID   string    `db:"owner_id"`
	Balance   int       `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row accountRow) account() ledger.Account {
	return ledger.Account{OwnerID: row.OwnerID, Balance: row.Balance, CreatedAt: row.CreatedAt.UTC(), UpdatedAt: row.UpdatedAt.UTC()}
}

type entryRow struct {
	ID           string      `db:"id"`
	OwnerID      string      `db:"owner_id"`
	Kind         string      `db:"kind"`
	Amount       int         `db:"amount"`
	BalanceAfter int         `db:"balance_after"`
	SessionID    null.String `db:"session_id"`
	Reference    null.String `db:"reference"`
	Note         string      `db:"note"`
	CreatedAt    time.Time   `db:"created_at"`
}

func (row entryRow) entry() ledger.Entry {
	return ledger.Entry{
		ID:           row.ID,
		OwnerID:      row.OwnerID,
		Kind:         ledger.EntryKind(row.Kind),
		Amount:       row.Amount,
		BalanceAfter: row.BalanceAfter,
		SessionID:    row.SessionID.String,
		Reference:    row.Reference.String,
		Note:         row.Note,
		CreatedAt:    row.CreatedAt.UTC(),
	}
}

type ledgerRepository struct {
	repository
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(exec core.DBExecutor) ledger.Repository {
	return &ledgerRepository{repository{exec: exec}}
}

func (repo ledgerRepository) LockAccount(ctx context.Context, ownerID string, exec ...core.DBExecutor) (ledger.Account, error) {
	exe := repo.getExec(exec)
	q := `INSERT INTO credit_account (owner_id, balance, created_at, updated_at) VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (owner_id) DO NOTHING`
	if _, err := exe.ExecContext(ctx, q, ownerID); err != nil {
		return ledger.Account{}, errors.Wrap(err, "creating account")
	}

	var row accountRow
	q = `SELECT ` + accountColumns + ` FROM credit_account WHERE owner_id = $1 FOR UPDATE`
	if err := exe.GetContext(ctx, &row, q, ownerID); err != nil {
		return ledger.Account{}, trapNoRowsErr(err, ledger.ErrAccountNotFound, "locking account")
	}
	return row.account(), nil
}

func (repo ledgerRepository) GetAccount(ctx context.Context, ownerID string, exec ...core.DBExecutor) (ledger.Account, error) {
	var row accountRow
	q := `SELECT ` + accountColumns + ` FROM credit_account WHERE owner_id = $1`
	if err := repo.getExec(exec).GetContext(ctx, &row, q, ownerID); err != nil {
		return ledger.Account{}, trapNoRowsErr(err, ledger.ErrAccountNotFound, "getting account")
	}
	return row.account(), nil
}

func (repo ledgerRepository) QueryAccounts(ctx context.Context, exec ...core.DBExecutor) ([]ledger.Account, error) {
	var rows []accountRow
	q := `SELECT ` + accountColumns + ` FROM credit_account ORDER BY owner_id`
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying accounts")
	}
	accounts := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.account())
	}
	return accounts, nil
}

func (repo ledgerRepository) SetBalance(ctx context.Context, ownerID string, balance int, at time.Time, exec ...core.DBExecutor) error {
	q := `UPDATE credit_account SET balance = $2, updated_at = $3 WHERE owner_id = $1`
	res, err := repo.getExec(exec).ExecContext(ctx, q, ownerID, balance, at.UTC())
	if err != nil {
		return errors.Wrap(err, "setting balance")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (repo ledgerRepository) LockReference(ctx context.Context, kind ledger.EntryKind, reference string, exec ...core.DBExecutor) error {
	q := `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := repo.getExec(exec).ExecContext(ctx, q, string(kind)+"|"+reference); err != nil {
		return errors.Wrap(err, "locking reference")
	}
	return nil
}

func (repo ledgerRepository) InsertEntry(ctx context.Context, entry ledger.Entry, exec ...core.DBExecutor) (ledger.Entry, error) {
	entry.ID = uuid.NewString()
	row := entryRow{
		ID:           entry.ID,
		OwnerID:      entry.OwnerID,
		Kind:         string(entry.Kind),
		Amount:       entry.Amount,
		BalanceAfter: entry.BalanceAfter,
		SessionID:    nullString(entry.SessionID),
		Reference:    nullString(entry.Reference),
		Note:         entry.Note,
		CreatedAt:    entry.CreatedAt.UTC(),
	}
	q := `INSERT INTO ledger_entry (` + entryColumns + `) VALUES (
		:id, :owner_id, :kind, :amount, :balance_after, :session_id, :reference, :note, :created_at)`
	if _, err := repo.getExec(exec).NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err, entryReferenceConstraint) {
			return ledger.Entry{}, ledger.ErrDuplicateReference
		}
		return ledger.Entry{}, errors.Wrap(err, "inserting entry")
	}
	return entry, nil
}

func (repo ledgerRepository) GetEntryByReference(ctx context.Context, kind ledger.EntryKind, reference string, exec ...core.DBExecutor) (ledger.Entry, error) {
	var row entryRow
	q := `SELECT ` + entryColumns + ` FROM ledger_entry WHERE kind = $1 AND reference = $2`
	if err := repo.getExec(exec).GetContext(ctx, &row, q, string(kind), reference); err != nil {
		return ledger.Entry{}, trapNoRowsErr(err, ledger.ErrEntryNotFound, "getting entry")
	}
	return row.entry(), nil
}

// QueryEntries returns the owner's entries, newest first.
func (repo ledgerRepository) QueryEntries(ctx context.Context, ownerID string, exec ...core.DBExecutor) ([]ledger.Entry, error) {
	var rows []entryRow
	q := `SELECT ` + entryColumns + ` FROM ledger_entry WHERE owner_id = $1 ORDER BY created_at DESC, balance_after`
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, ownerID); err != nil {
		return nil, errors.Wrap(err, "querying entries")
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

func (repo ledgerRepository) SumEntries(ctx context.Context, ownerID string, exec ...core.DBExecutor) (int, error) {
	var sum int
	q := `SELECT COALESCE(SUM(amount), 0) FROM ledger_entry WHERE owner_id = $1`
	if err := repo.getExec(exec).GetContext(ctx, &sum, q, ownerID); err != nil {
		return 0, errors.Wrap(err, "summing entries")
	}
	return sum, nil
}
