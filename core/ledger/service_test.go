package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/user"
	"github.com/trezcool/tutorly/testutil"
)

var ctx = context.Background()

func TestService_Purchase(t *testing.T) {
	env := testutil.NewEnv(t)
	usr := testutil.CreateRoleUser(t, env.UserRepo, "sam", user.RoleStudent)

	p := ledger.Purchase{OwnerID: usr.ID, Credits: 5, Gateway: " Stripe ", PaymentRef: "pi_123"}
	entry, replayed, err := env.Ledger.Purchase(ctx, p)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, ledger.KindPurchase, entry.Kind)
	assert.Equal(t, 5, entry.Amount)
	assert.Equal(t, 5, entry.BalanceAfter)
	assert.Equal(t, "stripe:pi_123", entry.Reference)

	t.Run("replay", func(t *testing.T) {
		again, replayed, err := env.Ledger.Purchase(ctx, p)
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, entry.ID, again.ID)
		assert.Equal(t, 5, testutil.Balance(t, env.Ledger, usr.ID))
	})

	t.Run("mismatch", func(t *testing.T) {
		p := p
		p.Credits = 50
		_, _, err := env.Ledger.Purchase(ctx, p)
		assert.Equal(t, ledger.ErrPaymentMismatch, errors.Cause(err))
		assert.Equal(t, 5, testutil.Balance(t, env.Ledger, usr.ID))
	})

	t.Run("same ref on another gateway", func(t *testing.T) {
		p := p
		p.Gateway = "paypal"
		_, replayed, err := env.Ledger.Purchase(ctx, p)
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, 10, testutil.Balance(t, env.Ledger, usr.ID))
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []ledger.Purchase{
			{OwnerID: usr.ID, Credits: 0, Gateway: "stripe", PaymentRef: "pi_1"},
			{OwnerID: usr.ID, Credits: 1, Gateway: "cash", PaymentRef: "pi_1"},
			{OwnerID: usr.ID, Credits: 1, Gateway: "stripe", PaymentRef: "  "},
			{OwnerID: "nope", Credits: 1, Gateway: "stripe", PaymentRef: "pi_1"},
		}
		for _, p := range tests {
			_, _, err := env.Ledger.Purchase(ctx, p)
			_, ok := errors.Cause(err).(validator.ValidationErrors)
			assert.True(t, ok, "%+v", p)
		}
	})
}

// missedLookups hides stored purchases from the first lookups, as a delivery racing another one sees them.
type missedLookups struct {
	ledger.Repository
	misses int
}

func (r *missedLookups) GetEntryByReference(ctx context.Context, kind ledger.EntryKind, reference string, exec ...core.DBExecutor) (ledger.Entry, error) {
	if r.misses > 0 {
		r.misses--
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return r.Repository.GetEntryByReference(ctx, kind, reference, exec...)
}

func TestService_Purchase_concurrentDelivery(t *testing.T) {
	env := testutil.NewEnv(t)
	usr := testutil.CreateRoleUser(t, env.UserRepo, "sam", user.RoleStudent)

	p := ledger.Purchase{OwnerID: usr.ID, Credits: 5, Gateway: "stripe", PaymentRef: "pi_race"}
	first, _, err := env.Ledger.Purchase(ctx, p)
	require.NoError(t, err)

	t.Run("lost the race once", func(t *testing.T) {
		svc := ledger.NewService(&missedLookups{Repository: env.LedgerRepo, misses: 1}, env.DB, env.Validate, env.Metrics)
		entry, replayed, err := svc.Purchase(ctx, p)
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, first.ID, entry.ID)
		assert.Equal(t, 5, testutil.Balance(t, env.Ledger, usr.ID))
	})

	t.Run("never sees the winner", func(t *testing.T) {
		svc := ledger.NewService(&missedLookups{Repository: env.LedgerRepo, misses: 2}, env.DB, env.Validate, env.Metrics)
		_, _, err := svc.Purchase(ctx, p)
		assert.Equal(t, ledger.ErrDuplicateReference, errors.Cause(err))
		assert.Equal(t, 5, testutil.Balance(t, env.Ledger, usr.ID))
	})

	found, err := env.Ledger.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestService_Apply(t *testing.T) {
	env := testutil.NewEnv(t)
	usr := testutil.CreateRoleUser(t, env.UserRepo, "sam", user.RoleStudent)
	testutil.Fund(t, env.Ledger, usr.ID, 3)

	tx := func(fn func(exec core.DBExecutor) error) error { return env.DB.RunInTx(ctx, fn) }

	t.Run("zero amount", func(t *testing.T) {
		err := tx(func(exec core.DBExecutor) error {
			_, err := env.Ledger.Apply(ctx, exec, ledger.Entry{OwnerID: usr.ID, Kind: ledger.KindAdjustment})
			return err
		})
		assert.Equal(t, ledger.ErrZeroAmount, errors.Cause(err))
	})

	t.Run("overdraft", func(t *testing.T) {
		err := tx(func(exec core.DBExecutor) error {
			_, err := env.Ledger.Debit(ctx, exec, usr.ID, 4, ledger.KindBookingDebit, "s1")
			return err
		})
		assert.Equal(t, ledger.ErrInsufficientCredits, errors.Cause(err))
		assert.Equal(t, 3, testutil.Balance(t, env.Ledger, usr.ID))
	})

	t.Run("debit then refund once", func(t *testing.T) {
		err := tx(func(exec core.DBExecutor) error {
			entry, err := env.Ledger.Debit(ctx, exec, usr.ID, 3, ledger.KindBookingDebit, "s2")
			if err != nil {
				return err
			}
			assert.Equal(t, 0, entry.BalanceAfter)
			assert.Equal(t, "session:s2", entry.Reference)
			return nil
		})
		require.NoError(t, err)

		refund := func() error {
			return tx(func(exec core.DBExecutor) error {
				_, err := env.Ledger.Credit(ctx, exec, usr.ID, 3, ledger.KindRefund, "s2")
				return err
			})
		}
		require.NoError(t, refund())
		assert.Equal(t, ledger.ErrDuplicateReference, errors.Cause(refund()))
		assert.Equal(t, 3, testutil.Balance(t, env.Ledger, usr.ID))
	})

	t.Run("rolled back with the transaction", func(t *testing.T) {
		err := tx(func(exec core.DBExecutor) error {
			if _, err := env.Ledger.Debit(ctx, exec, usr.ID, 1, ledger.KindBookingDebit, "s3"); err != nil {
				return err
			}
			return errors.New("boom")
		})
		assert.EqualError(t, err, "boom")
		assert.Equal(t, 3, testutil.Balance(t, env.Ledger, usr.ID))
	})

	assert.Equal(t, 1, env.Metrics.LedgerEntries[string(ledger.KindRefund)])
}

func TestService_Adjust(t *testing.T) {
	env := testutil.NewEnv(t)
	usr := testutil.CreateRoleUser(t, env.UserRepo, "tina", user.RoleTutor)
	testutil.Fund(t, env.Ledger, usr.ID, 2)

	entry, err := env.Ledger.Adjust(ctx, ledger.Adjustment{OwnerID: usr.ID, Amount: -2, Note: " payout "})
	require.NoError(t, err)
	assert.Equal(t, "payout", entry.Note)
	assert.Equal(t, 0, entry.BalanceAfter)

	_, err = env.Ledger.Adjust(ctx, ledger.Adjustment{OwnerID: usr.ID, Amount: -1, Note: "payout"})
	assert.Equal(t, ledger.ErrInsufficientCredits, errors.Cause(err))

	_, err = env.Ledger.Adjust(ctx, ledger.Adjustment{OwnerID: usr.ID, Amount: 1})
	assert.Error(t, err)

	entries, err := env.Ledger.Entries(ctx, usr.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindAdjustment, entries[0].Kind)
	assert.Equal(t, ledger.KindPurchase, entries[1].Kind)
}

func TestService_Balance(t *testing.T) {
	env := testutil.NewEnv(t)

	acc, err := env.Ledger.Balance(ctx, "no-account")
	require.NoError(t, err)
	assert.Equal(t, ledger.Account{OwnerID: "no-account"}, acc)
}

func TestService_ConcurrentDebits(t *testing.T) {
	env := testutil.NewEnv(t)
	usr := testutil.CreateRoleUser(t, env.UserRepo, "sam", user.RoleStudent)
	testutil.Fund(t, env.Ledger, usr.ID, 5)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs []error
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := env.DB.RunInTx(ctx, func(exec core.DBExecutor) error {
				_, err := env.Ledger.Debit(ctx, exec, usr.ID, 1, ledger.KindBookingDebit, string(rune('a'+i)))
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
			} else {
				errs = append(errs, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, oks)
	for _, err := range errs {
		assert.Equal(t, ledger.ErrInsufficientCredits, errors.Cause(err))
	}
	assert.Equal(t, 0, testutil.Balance(t, env.Ledger, usr.ID))

	found, err := env.Ledger.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestService_Verify(t *testing.T) {
	env := testutil.NewEnv(t)
	usr := testutil.CreateRoleUser(t, env.UserRepo, "sam", user.RoleStudent)
	testutil.Fund(t, env.Ledger, usr.ID, 5)

	require.NoError(t, env.LedgerRepo.SetBalance(ctx, usr.ID, 7, ledger.NowFunc()))

	found, err := env.Ledger.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Discrepancy{{OwnerID: usr.ID, Balance: 7, EntriesSum: 5}}, found)
}
