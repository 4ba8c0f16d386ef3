package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/attachment"
)

type attachmentRepository struct {
	db *DB
}

var _ attachment.Repository = (*attachmentRepository)(nil)

func NewAttachmentRepository(db *DB) attachment.Repository {
	return &attachmentRepository{db: db}
}

func (repo *attachmentRepository) CreateAttachment(_ context.Context, a attachment.Attachment, exec ...core.DBExecutor) (attachment.Attachment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	put(exec, repo.db.t.attachments, a.ID, a)
	return a, nil
}

func (repo *attachmentRepository) QueryAttachments(_ context.Context, sessionID string, _ ...core.DBExecutor) ([]attachment.Attachment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	found := make([]attachment.Attachment, 0)
	for _, a := range repo.db.t.attachments {
		if a.SessionID == sessionID {
			found = append(found, a)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	return found, nil
}
