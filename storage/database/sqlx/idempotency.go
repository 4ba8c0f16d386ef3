package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/idempotency"
)

type idempotencyRow struct {
	OwnerID     string     `db:"owner_id"`
	Key         string     `db:"key"`
	Operation   string     `db:"operation"`
	RequestHash string     `db:"request_hash"`
	Response    null.Bytes `db:"response"`
	CreatedAt   time.Time  `db:"created_at"`
}

type idempotencyRepository struct {
	repository
}

var _ idempotency.Repository = (*idempotencyRepository)(nil) // interface compliance check

func NewIdempotencyRepository(exec core.DBExecutor) idempotency.Repository {
	return &idempotencyRepository{repository{exec: exec}}
}

// Reserve inserts the key or, when a concurrent transaction holds it, waits for that one to finish
// and returns what it stored.
func (repo idempotencyRepository) Reserve(ctx context.Context, rec idempotency.Record, exec ...core.DBExecutor) (idempotency.Record, bool, error) {
	exe := repo.getExec(exec)
	q := `INSERT INTO idempotency_key (owner_id, key, operation, request_hash, created_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (owner_id, key) DO NOTHING`
	res, err := exe.ExecContext(ctx, q, rec.OwnerID, rec.Key, rec.Operation, rec.RequestHash, rec.CreatedAt.UTC())
	if err != nil {
		return idempotency.Record{}, false, errors.Wrap(err, "inserting idempotency key")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return rec, true, nil
	}

	var row idempotencyRow
	q = `SELECT owner_id, key, operation, request_hash, response, created_at
		FROM idempotency_key WHERE owner_id = $1 AND key = $2`
	if err = exe.GetContext(ctx, &row, q, rec.OwnerID, rec.Key); err != nil {
		return idempotency.Record{}, false, trapNoRowsErr(err, idempotency.ErrNotFound, "getting idempotency key")
	}
	return idempotency.Record{
		OwnerID:     row.OwnerID,
		Key:         row.Key,
		Operation:   row.Operation,
		RequestHash: row.RequestHash,
		Response:    row.Response.Bytes,
		CreatedAt:   row.CreatedAt.UTC(),
	}, false, nil
}

func (repo idempotencyRepository) SaveResponse(ctx context.Context, ownerID, key string, response []byte, exec ...core.DBExecutor) error {
	q := `UPDATE idempotency_key SET response = $3 WHERE owner_id = $1 AND key = $2`
	res, err := repo.getExec(exec).ExecContext(ctx, q, ownerID, key, response)
	if err != nil {
		return errors.Wrap(err, "saving response")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return idempotency.ErrNotFound
	}
	return nil
}
