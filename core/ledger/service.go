package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
)

var (
	// errors
	ErrAccountNotFound     = errors.New("credit account not found")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicateReference  = errors.New("a ledger entry with this reference already exists")
	ErrPaymentMismatch     = errors.New("payment reference already credited with different details")
	ErrZeroAmount          = errors.New("amount must not be zero")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		// LockAccount returns the owner's account locked until the end of the transaction,
		// creating it with a zero balance when it does not exist yet.
		LockAccount(ctx context.Context, ownerID string, exec ...core.DBExecutor) (Account, error)
		GetAccount(ctx context.Context, ownerID string, exec ...core.DBExecutor) (Account, error)
		QueryAccounts(ctx context.Context, exec ...core.DBExecutor) ([]Account, error)
		SetBalance(ctx context.Context, ownerID string, balance int, at time.Time, exec ...core.DBExecutor) error

		// LockReference holds writers of (kind, reference) back until the end of the transaction.
		LockReference(ctx context.Context, kind EntryKind, reference string, exec ...core.DBExecutor) error
		// InsertEntry returns ErrDuplicateReference when (kind, reference) is taken.
		InsertEntry(ctx context.Context, entry Entry, exec ...core.DBExecutor) (Entry, error)
		GetEntryByReference(ctx context.Context, kind EntryKind, reference string, exec ...core.DBExecutor) (Entry, error)
		QueryEntries(ctx context.Context, ownerID string, exec ...core.DBExecutor) ([]Entry, error)
		SumEntries(ctx context.Context, ownerID string, exec ...core.DBExecutor) (int, error)
	}

	Service struct {
		repo     Repository
		tx       core.Transactor
		validate *validator.Validate
		metrics  core.MetricsRecorder
	}
)

func NewService(repo Repository, tx core.Transactor, validate *validator.Validate, metrics core.MetricsRecorder) *Service {
	return &Service{repo: repo, tx: tx, validate: validate, metrics: metrics}
}

// Apply appends entry to its owner's account within the caller's transaction and moves the balance.
// The balance never goes below zero.
func (svc *Service) Apply(ctx context.Context, exec core.DBExecutor, entry Entry) (Entry, error) {
	if entry.Amount == 0 {
		return Entry{}, ErrZeroAmount
	}

	acc, err := svc.repo.LockAccount(ctx, entry.OwnerID, exec)
	if err != nil {
		return Entry{}, errors.Wrap(err, "locking account")
	}
	newBalance := acc.Balance + entry.Amount
	if newBalance < 0 {
		return Entry{}, ErrInsufficientCredits
	}

	now := NowFunc().UTC()
	entry.BalanceAfter = newBalance
	entry.CreatedAt = now
	if entry, err = svc.repo.InsertEntry(ctx, entry, exec); err != nil {
		return Entry{}, errors.Wrap(err, "inserting entry")
	}
	if err = svc.repo.SetBalance(ctx, entry.OwnerID, newBalance, now, exec); err != nil {
		return Entry{}, errors.Wrap(err, "setting balance")
	}

	svc.metrics.ObserveLedgerEntry(string(entry.Kind), entry.Amount)
	return entry, nil
}

// Debit takes amount credits from ownerID. It fails with ErrInsufficientCredits, leaving nothing written.
func (svc *Service) Debit(ctx context.Context, exec core.DBExecutor, ownerID string, amount int, kind EntryKind, sessionID string) (Entry, error) {
	return svc.Apply(ctx, exec, Entry{
		OwnerID:   ownerID,
		Kind:      kind,
		Amount:    -amount,
		SessionID: sessionID,
		Reference: sessionRef(sessionID),
	})
}

// Credit gives amount credits to ownerID. The (kind, session) pair can only be credited once.
func (svc *Service) Credit(ctx context.Context, exec core.DBExecutor, ownerID string, amount int, kind EntryKind, sessionID string) (Entry, error) {
	return svc.Apply(ctx, exec, Entry{
		OwnerID:   ownerID,
		Kind:      kind,
		Amount:    amount,
		SessionID: sessionID,
		Reference: sessionRef(sessionID),
	})
}

func sessionRef(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return "session:" + sessionID
}

// Purchase credits a confirmed gateway payment. Replaying the same payment returns the original entry.
func (svc *Service) Purchase(ctx context.Context, p Purchase) (Entry, bool, error) {
	p.Clean()
	if err := svc.validate.Struct(p); err != nil {
		return Entry{}, false, err
	}

	entry, replayed, err := svc.purchase(ctx, p)
	if errors.Cause(err) == ErrDuplicateReference {
		// another delivery of the payment committed first
		entry, replayed, err = svc.purchase(ctx, p)
	}
	return entry, replayed, err
}

func (svc *Service) purchase(ctx context.Context, p Purchase) (entry Entry, replayed bool, err error) {
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		if err := svc.repo.LockReference(ctx, KindPurchase, p.Reference(), exec); err != nil {
			return errors.Wrap(err, "locking purchase reference")
		}
		prev, err := svc.repo.GetEntryByReference(ctx, KindPurchase, p.Reference(), exec)
		switch {
		case err == nil:
			if prev.OwnerID != p.OwnerID || prev.Amount != p.Credits {
				return ErrPaymentMismatch
			}
			entry, replayed = prev, true
			return nil
		case errors.Cause(err) != ErrEntryNotFound:
			return errors.Wrap(err, "finding purchase")
		}

		entry, err = svc.Apply(ctx, exec, Entry{
			OwnerID:   p.OwnerID,
			Kind:      KindPurchase,
			Amount:    p.Credits,
			Reference: p.Reference(),
			Note:      fmt.Sprintf("%d credits via %s", p.Credits, p.Gateway),
		})
		return err
	})
	if err != nil {
		return Entry{}, false, err
	}
	return entry, replayed, nil
}

func (svc *Service) Adjust(ctx context.Context, adj Adjustment) (Entry, error) {
	adj.Note = core.CleanString(adj.Note)
	if err := svc.validate.Struct(adj); err != nil {
		return Entry{}, err
	}

	var entry Entry
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) (err error) {
		entry, err = svc.Apply(ctx, exec, Entry{
			OwnerID: adj.OwnerID,
			Kind:    KindAdjustment,
			Amount:  adj.Amount,
			Note:    adj.Note,
		})
		return err
	})
	return entry, err
}

// Balance returns the owner's account. Owners without an account have a zero balance.
func (svc *Service) Balance(ctx context.Context, ownerID string) (Account, error) {
	acc, err := svc.repo.GetAccount(ctx, ownerID)
	if err != nil {
		if errors.Cause(err) == ErrAccountNotFound {
			return Account{OwnerID: ownerID}, nil
		}
		return Account{}, errors.Wrap(err, "getting account")
	}
	return acc, nil
}

func (svc *Service) Entries(ctx context.Context, ownerID string) ([]Entry, error) {
	return svc.repo.QueryEntries(ctx, ownerID)
}

// Verify checks every account's balance against the sum of its entries.
func (svc *Service) Verify(ctx context.Context) ([]Discrepancy, error) {
	accounts, err := svc.repo.QueryAccounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying accounts")
	}

	var found []Discrepancy
	for _, acc := range accounts {
		sum, err := svc.repo.SumEntries(ctx, acc.OwnerID)
		if err != nil {
			return nil, errors.Wrapf(err, "summing entries of %s", acc.OwnerID)
		}
		if sum != acc.Balance {
			found = append(found, Discrepancy{OwnerID: acc.OwnerID, Balance: acc.Balance, EntriesSum: sum})
		}
	}
	return found, nil
}
