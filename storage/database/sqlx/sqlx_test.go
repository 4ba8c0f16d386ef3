package sqlxrepos_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/idempotency"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/user"
	"github.com/trezcool/tutorly/storage/database"
	sqlxrepos "github.com/trezcool/tutorly/storage/database/sqlx"
	"github.com/trezcool/tutorly/testutil"
)

// openTestDB connects to TEST_DATABASE_URL, migrates it and empties every table.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.OpenURL(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db.DB))
	_, err = db.Exec(`TRUNCATE attachment, tutor_availability, ledger_entry, credit_account, idempotency_key, session, school, "user" CASCADE`)
	require.NoError(t, err)
	return db
}

type pgEnv struct {
	users   user.Repository
	ledger  *ledger.Service
	booking *booking.Service
	metrics *testutil.MetricsRecorder
}

func newPgEnv(t *testing.T) pgEnv {
	db := openTestDB(t)
	conf := core.NewTestConfig()
	validate := testutil.NewValidator(testutil.NewTranslator())
	tx := core.NewTransactor(db)
	metrics := testutil.NewMetricsRecorder()

	env := pgEnv{users: sqlxrepos.NewUserRepository(db), metrics: metrics}
	env.ledger = ledger.NewService(sqlxrepos.NewLedgerRepository(db), tx, validate, metrics)
	env.booking = booking.NewService(booking.Deps{
		Repo:     sqlxrepos.NewSessionRepository(db),
		Users:    user.NewService(env.users),
		Ledger:   env.ledger,
		Guard:    idempotency.NewGuard(sqlxrepos.NewIdempotencyRepository(db)),
		Tx:       tx,
		Validate: validate,
		Notifier: &testutil.NotifierRecorder{},
		Metrics:  metrics,
		Policy:   booking.NewPolicy(conf),
	})
	return env
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	env := newPgEnv(t)

	sam := testutil.CreateUser(t, env.users, "Sam", "sam", "sam@example.com", "pwd", []string{user.RoleStudent}, true)
	testutil.CreateUser(t, env.users, "Tina", "tina", "tina@example.com", "", []string{user.RoleTutor + "maths"}, true)

	got, err := env.users.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{"sam@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, sam.ID, got.ID)
	assert.NoError(t, got.CheckPassword("pwd"))

	_, err = env.users.GetUser(ctx, user.GetFilter{ID: "nope"})
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))

	assert.Equal(t, user.ErrUserExists, errors.Cause(env.users.CheckUsernameUniqueness(ctx, "sam", "", nil)))
	assert.NoError(t, env.users.CheckUsernameUniqueness(ctx, "sam", "", []user.User{sam}))

	tutors, err := env.users.QueryUsers(ctx, &user.QueryFilter{Roles: []string{user.RoleTutor}}, []core.DBOrdering{{Field: "username", Ascending: true}})
	require.NoError(t, err)
	require.Len(t, tutors, 1)
	assert.Equal(t, "tina", tutors[0].Username)

	school, err := env.users.CreateSchool(ctx, user.School{Name: "Hill", PrincipalID: sam.ID, CreatedAt: time.Now()})
	require.NoError(t, err)
	gotSchool, err := env.users.GetSchool(ctx, school.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hill", gotSchool.Name)
}

func TestBookingOnPostgres(t *testing.T) {
	ctx := context.Background()
	env := newPgEnv(t)
	testutil.SetNow(t, time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC))

	student := testutil.CreateRoleUser(t, env.users, "sam", user.RoleStudent)
	tutor := testutil.CreateRoleUser(t, env.users, "tina", user.RoleTutor)
	testutil.Fund(t, env.ledger, student.ID, 5)

	nb := booking.NewBooking{TutorID: tutor.ID, Subject: "Algebra", Date: "2030-06-03", Time: "14:00", DurationMinutes: 60}
	s, err := env.booking.Create(ctx, student.Identity(), nb, "k1")
	require.NoError(t, err)
	replay, err := env.booking.Create(ctx, student.Identity(), nb, "k1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, replay.ID)
	assert.Equal(t, 3, testutil.Balance(t, env.ledger, student.ID))

	s, err = env.booking.Accept(ctx, tutor.Identity(), s.ID, booking.AcceptRequest{MeetingLink: "https://meet.example/x"}, "")
	require.NoError(t, err)

	s, err = env.booking.Cancel(ctx, student.Identity(), s.ID, booking.CancelRequest{Reason: "schedule conflict"}, "")
	require.NoError(t, err)
	assert.Equal(t, 5, testutil.Balance(t, env.ledger, student.ID))

	stored, err := env.booking.Get(ctx, student.Identity(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, stored.Status)
	require.NotNil(t, stored.Cancellation)
	assert.Equal(t, 2, stored.Cancellation.RefundCredits)

	_, err = env.booking.Cancel(ctx, student.Identity(), s.ID, booking.CancelRequest{Reason: "again"}, "")
	assert.True(t, booking.IsConflict(err))

	_, err = env.booking.SetAvailability(ctx, tutor.Identity(), booking.SetAvailability{
		Date:    "2030-06-05",
		Windows: []booking.Window{{Start: "09:00", End: "10:00"}},
	})
	require.NoError(t, err)
	av, err := env.booking.GetAvailability(ctx, tutor.ID, "2030-06-05")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30"}, av.Slots)

	found, err := env.ledger.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestConcurrentPurchasesOnPostgres(t *testing.T) {
	ctx := context.Background()
	env := newPgEnv(t)
	sam := testutil.CreateRoleUser(t, env.users, "sam", user.RoleStudent)

	p := ledger.Purchase{OwnerID: sam.ID, Credits: 5, Gateway: "stripe", PaymentRef: "pi_webhook"}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
		ids      = make(map[string]bool)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, replayed, err := env.ledger.Purchase(ctx, p)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if err == nil && !replayed {
				credited++
			}
			ids[entry.ID] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, credited)
	assert.Len(t, ids, 1)
	assert.Equal(t, 5, testutil.Balance(t, env.ledger, sam.ID))
}
