package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/attachment"
)

// diskStore writes objects under root. The API serves root at publicBaseURL in development.
type diskStore struct {
	root          string
	publicBaseURL string
}

var _ attachment.ObjectStore = (*diskStore)(nil) // interface compliance check

func NewDiskStore(conf *core.Config) attachment.ObjectStore {
	return &diskStore{root: conf.Storage.DiskRoot, publicBaseURL: strings.TrimRight(conf.Storage.PublicBaseURL, "/")}
}

// NewObjectStore picks the backend named in the config.
func NewObjectStore(conf *core.Config) attachment.ObjectStore {
	if conf.Storage.Backend == "supabase" {
		return NewSupabaseStore(conf)
	}
	return NewDiskStore(conf)
}

func (s *diskStore) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", errors.Errorf("invalid object key %q", key)
	}
	dest := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.Wrap(err, "creating object directory")
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "creating object")
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return "", errors.Wrap(err, "writing object")
	}
	if err = f.Close(); err != nil {
		return "", errors.Wrap(err, "closing object")
	}
	return s.publicBaseURL + clean, nil
}
