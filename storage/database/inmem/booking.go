package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/booking"
)

type sessionRepository struct {
	db *DB
}

var _ booking.Repository = (*sessionRepository)(nil)

func NewSessionRepository(db *DB) booking.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) CreateSession(_ context.Context, s booking.Session, exec ...core.DBExecutor) (booking.Session, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	put(exec, repo.db.t.sessions, s.ID, s)
	return s, nil
}

// GetSession ignores forUpdate: transactions are already serialized.
func (repo *sessionRepository) GetSession(_ context.Context, id string, _ bool, _ ...core.DBExecutor) (booking.Session, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if s, ok := repo.db.t.sessions[id]; ok {
		return s, nil
	}
	return booking.Session{}, booking.ErrNotFound
}

func (repo *sessionRepository) UpdateSession(_ context.Context, s booking.Session, expected booking.Status, exec ...core.DBExecutor) (booking.Session, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	stored, ok := repo.db.t.sessions[s.ID]
	if !ok {
		return booking.Session{}, booking.ErrNotFound
	}
	if stored.Status != expected {
		return booking.Session{}, booking.ErrStatusChanged
	}
	put(exec, repo.db.t.sessions, s.ID, s)
	return s, nil
}

func (repo *sessionRepository) QuerySessions(_ context.Context, filter booking.QueryFilter, _ ...core.DBExecutor) ([]booking.Session, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	sessions := make([]booking.Session, 0)
	for _, s := range repo.db.t.sessions {
		if matchSession(s, filter) {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartAt.Equal(sessions[j].StartAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartAt.After(sessions[j].StartAt)
	})
	return sessions, nil
}

func matchSession(s booking.Session, filter booking.QueryFilter) bool {
	if filter.PartyID != "" && !s.IsParty(filter.PartyID) {
		return false
	}
	if filter.TutorID != "" && s.TutorID != filter.TutorID {
		return false
	}
	if filter.FundedBy != "" && s.Owner.FundedBy() != filter.FundedBy {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if s.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.StartFrom.IsZero() && s.StartAt.Before(filter.StartFrom) {
		return false
	}
	if !filter.StartTo.IsZero() && s.StartAt.After(filter.StartTo) {
		return false
	}
	return true
}

func (repo *sessionRepository) GetAvailability(_ context.Context, tutorID, date string, _ ...core.DBExecutor) ([]booking.Window, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	windows := append([]booking.Window(nil), repo.db.t.availability[compositeKey(tutorID, date)]...)
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	return windows, nil
}

func (repo *sessionRepository) ReplaceAvailability(_ context.Context, tutorID, date string, windows []booking.Window, exec ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	key := compositeKey(tutorID, date)
	if len(windows) == 0 {
		del(exec, repo.db.t.availability, key)
		return nil
	}
	put(exec, repo.db.t.availability, key, append([]booking.Window(nil), windows...))
	return nil
}
