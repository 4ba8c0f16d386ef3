package inmemdb

import (
	"context"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/idempotency"
)

type idempotencyRepository struct {
	db *DB
}

var _ idempotency.Repository = (*idempotencyRepository)(nil)

func NewIdempotencyRepository(db *DB) idempotency.Repository {
	return &idempotencyRepository{db: db}
}

func (repo *idempotencyRepository) Reserve(_ context.Context, rec idempotency.Record, exec ...core.DBExecutor) (idempotency.Record, bool, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	key := compositeKey(rec.OwnerID, rec.Key)
	if stored, ok := repo.db.t.keys[key]; ok {
		return stored, false, nil
	}
	put(exec, repo.db.t.keys, key, rec)
	return rec, true, nil
}

func (repo *idempotencyRepository) SaveResponse(_ context.Context, ownerID, key string, response []byte, exec ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	k := compositeKey(ownerID, key)
	rec, ok := repo.db.t.keys[k]
	if !ok {
		return idempotency.ErrNotFound
	}
	rec.Response = response
	put(exec, repo.db.t.keys, k, rec)
	return nil
}
