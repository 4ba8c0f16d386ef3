package idempotency_test

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/idempotency"
	inmemdb "github.com/trezcool/tutorly/storage/database/inmem"
)

type result struct {
	N int `json:"n"`
}

func TestGuard_Run(t *testing.T) {
	ctx := context.Background()
	db := inmemdb.NewDB()
	guard := idempotency.NewGuard(inmemdb.NewIdempotencyRepository(db))

	calls := 0
	run := func(scope idempotency.Scope) (result, bool, error) {
		var (
			out      result
			replayed bool
		)
		err := db.RunInTx(ctx, func(exec core.DBExecutor) (err error) {
			replayed, err = guard.Run(ctx, exec, scope, &out, func() (interface{}, error) {
				calls++
				if scope.Operation == "fail" {
					return nil, errors.New("failed")
				}
				out = result{N: calls}
				return out, nil
			})
			return err
		})
		return out, replayed, err
	}

	scope := idempotency.Scope{OwnerID: "u1", Key: "k1", Operation: "op", Request: map[string]int{"a": 1}}

	first, replayed, err := run(scope)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 1, first.N)

	again, replayed, err := run(scope)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, calls)

	tests := []struct {
		name    string
		scope   idempotency.Scope
		wantErr error
		calls   int
	}{
		{
			name:    "different request",
			scope:   idempotency.Scope{OwnerID: "u1", Key: "k1", Operation: "op", Request: map[string]int{"a": 2}},
			wantErr: idempotency.ErrKeyReused,
			calls:   1,
		},
		{
			name:    "different operation",
			scope:   idempotency.Scope{OwnerID: "u1", Key: "k1", Operation: "other", Request: map[string]int{"a": 1}},
			wantErr: idempotency.ErrKeyReused,
			calls:   1,
		},
		{
			name:  "other owner",
			scope: idempotency.Scope{OwnerID: "u2", Key: "k1", Operation: "op", Request: map[string]int{"a": 1}},
			calls: 2,
		},
		{
			name:  "no key",
			scope: idempotency.Scope{OwnerID: "u1", Operation: "op", Request: map[string]int{"a": 1}},
			calls: 3,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := run(tc.scope)
			if tc.wantErr != nil {
				assert.Equal(t, tc.wantErr, errors.Cause(err))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.calls, calls)
		})
	}

	t.Run("failure releases the key", func(t *testing.T) {
		failing := idempotency.Scope{OwnerID: "u3", Key: "k2", Operation: "fail"}
		_, _, err := run(failing)
		assert.EqualError(t, err, "failed")

		failing.Operation = "op"
		_, replayed, err := run(failing)
		require.NoError(t, err)
		assert.False(t, replayed)
	})

	t.Run("key too long", func(t *testing.T) {
		_, _, err := run(idempotency.Scope{OwnerID: "u1", Key: strings.Repeat("k", 256), Operation: "op"})
		assert.True(t, core.IsValidationError(err))
	})
}

func TestHash(t *testing.T) {
	a, err := idempotency.Hash("op", struct{ X int }{1})
	require.NoError(t, err)
	b, err := idempotency.Hash("op", struct{ X int }{1})
	require.NoError(t, err)
	c, err := idempotency.Hash("op2", struct{ X int }{1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
