// Package attachment stores files shared between the parties of a session.
package attachment

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/user"
)

const defaultContentType = "application/octet-stream"

var (
	// errors
	ErrTooLarge = errors.New("file is too large")
	ErrEmpty    = errors.New("file is empty")
)

type (
	Attachment struct {
		ID          string    `json:"id"`
		SessionID   string    `json:"session_id"`
		UploadedBy  string    `json:"uploaded_by"`
		Filename    string    `json:"filename"`
		ContentType string    `json:"content_type"`
		Size        int64     `json:"size"`
		ObjectKey   string    `json:"-"`
		URL         string    `json:"url"`
		CreatedAt   time.Time `json:"created_at"`
	}

	// Upload is a file received from a session party.
	Upload struct {
		Filename    string
		ContentType string
		Size        int64
		Body        io.Reader
	}

	// ObjectStore keeps bytes and hands back a URL they can be retrieved from.
	ObjectStore interface {
		Put(ctx context.Context, key, contentType string, r io.Reader) (url string, err error)
	}

	Repository interface {
		CreateAttachment(ctx context.Context, a Attachment, exec ...core.DBExecutor) (Attachment, error)
		QueryAttachments(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]Attachment, error)
	}

	// Sessions returns the sessions a caller may see.
	Sessions interface {
		Get(ctx context.Context, caller user.Identity, id string) (booking.Session, error)
	}

	Service struct {
		repo     Repository
		store    ObjectStore
		sessions Sessions
		maxBytes int64
	}
)

func NewService(conf *core.Config, repo Repository, store ObjectStore, sessions Sessions) *Service {
	return &Service{repo: repo, store: store, sessions: sessions, maxBytes: conf.Storage.MaxUploadBytes}
}

// Upload stores up.Body and records it against the session. Only session parties may upload.
func (svc *Service) Upload(ctx context.Context, caller user.Identity, sessionID string, up Upload) (Attachment, error) {
	s, err := svc.sessions.Get(ctx, caller, sessionID)
	if err != nil {
		return Attachment{}, err
	}
	if !s.IsParty(caller.ID) {
		return Attachment{}, booking.ErrForbidden
	}

	if up.Size > svc.maxBytes {
		return Attachment{}, core.NewValidationError(ErrTooLarge, core.FieldError{
			Field: "file",
			Error: fmt.Sprintf("file must not exceed %d bytes", svc.maxBytes),
		})
	}
	if up.Size == 0 {
		return Attachment{}, core.NewValidationError(ErrEmpty, core.FieldError{Field: "file", Error: ErrEmpty.Error()})
	}

	filename := cleanFilename(up.Filename)
	contentType := up.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	id := uuid.NewString()
	key := path.Join("sessions", s.ID, id+"-"+filename)

	url, err := svc.store.Put(ctx, key, contentType, io.LimitReader(up.Body, svc.maxBytes))
	if err != nil {
		return Attachment{}, errors.Wrap(err, "storing object")
	}

	return svc.repo.CreateAttachment(ctx, Attachment{
		ID:          id,
		SessionID:   s.ID,
		UploadedBy:  caller.ID,
		Filename:    filename,
		ContentType: contentType,
		Size:        up.Size,
		ObjectKey:   key,
		URL:         url,
		CreatedAt:   time.Now().UTC(),
	})
}

func (svc *Service) List(ctx context.Context, caller user.Identity, sessionID string) ([]Attachment, error) {
	s, err := svc.sessions.Get(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}
	return svc.repo.QueryAttachments(ctx, s.ID)
}

func cleanFilename(name string) string {
	name = path.Base(strings.ReplaceAll(core.CleanString(name), "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 32 || r == 127 || strings.ContainsRune(`"'<>?*|:`, r):
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}
