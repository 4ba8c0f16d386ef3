package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/attachment"
)

const attachmentColumns = `id, session_id, uploaded_by, filename, content_type, size, object_key, url, created_at`

type attachmentRow struct {
	ID          string    `db:"id"`
	SessionID   string    `db:"session_id"`
	UploadedBy  string    `db:"uploaded_by"`
	Filename    string    `db:"filename"`
	ContentType string    `db:"content_type"`
	Size        int64     `db:"size"`
	ObjectKey   string    `db:"object_key"`
	URL         string    `db:"url"`
	CreatedAt   time.Time `db:"created_at"`
}

type attachmentRepository struct {
	repository
}

var _ attachment.Repository = (*attachmentRepository)(nil) // interface compliance check

func NewAttachmentRepository(exec core.DBExecutor) attachment.Repository {
	return &attachmentRepository{repository{exec: exec}}
}

func (repo attachmentRepository) CreateAttachment(ctx context.Context, a attachment.Attachment, exec ...core.DBExecutor) (attachment.Attachment, error) {
	row := attachmentRow(a)
	row.CreatedAt = row.CreatedAt.UTC()
	q := `INSERT INTO attachment (` + attachmentColumns + `) VALUES (
		:id, :session_id, :uploaded_by, :filename, :content_type, :size, :object_key, :url, :created_at)`
	if _, err := repo.getExec(exec).NamedExecContext(ctx, q, row); err != nil {
		return attachment.Attachment{}, errors.Wrap(err, "inserting attachment")
	}
	return a, nil
}

func (repo attachmentRepository) QueryAttachments(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attachment.Attachment, error) {
	var rows []attachmentRow
	q := `SELECT ` + attachmentColumns + ` FROM attachment WHERE session_id = $1 ORDER BY created_at`
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, sessionID); err != nil {
		return nil, errors.Wrap(err, "querying attachments")
	}
	found := make([]attachment.Attachment, 0, len(rows))
	for _, row := range rows {
		a := attachment.Attachment(row)
		a.CreatedAt = a.CreatedAt.UTC()
		found = append(found, a)
	}
	return found, nil
}
