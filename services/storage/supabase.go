// Package storage keeps attachment bytes in Supabase storage or on the local disk.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/attachment"
)

// supabaseStore talks to the Supabase storage REST API of one bucket.
type supabaseStore struct {
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
}

var _ attachment.ObjectStore = (*supabaseStore)(nil) // interface compliance check

func NewSupabaseStore(conf *core.Config) attachment.ObjectStore {
	return newSupabaseStore(conf.Storage.SupabaseURL, conf.Storage.Bucket, conf.Storage.SupabaseKey, &http.Client{Timeout: 30 * time.Second})
}

func newSupabaseStore(baseURL, bucket, serviceKey string, client *http.Client) *supabaseStore {
	return &supabaseStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: client,
	}
}

func (s *supabaseStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	key = escapePath(strings.TrimLeft(key, "/"))
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, url.PathEscape(s.bucket), key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, r)
	if err != nil {
		return "", errors.Wrap(err, "building upload request")
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("x-upsert", "false")
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "uploading object")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", errors.Errorf("uploading object: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, url.PathEscape(s.bucket), key), nil
}

// escapePath escapes each segment of an object key, keeping the separators.
func escapePath(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
