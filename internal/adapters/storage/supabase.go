package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

type SupabaseConfig struct {
	URL     string
	Key     string
	Bucket  string
	Timeout time.Duration
}

// SupabaseStore uploads artifacts to a Supabase Storage bucket over REST.
// Retries are owned by the uploader, so the client itself never retries.
type SupabaseStore struct {
	http   *resty.Client
	base   string
	bucket string
}

func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("supabase store needs url and bucket")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := strings.TrimRight(cfg.URL, "/")
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetAuthToken(cfg.Key).
		SetHeader("apikey", cfg.Key)

	return &SupabaseStore{http: client, base: base, bucket: cfg.Bucket}, nil
}

func (s *SupabaseStore) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	object := url.PathEscape(s.bucket) + "/" + url.PathEscape(name)
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("x-upsert", "true").
		SetBody(data).
		Post("/storage/v1/object/" + object)
	if err != nil {
		return "", fmt.Errorf("supabase upload %s: %w", name, err)
	}
	if resp.IsError() {
		log.Warn().
			Str("module", "storage.supabase").
			Str("artifact", name).
			Int("status_code", resp.StatusCode()).
			Msg("upload rejected")
		return "", fmt.Errorf("supabase upload %s: %s: %s", name, resp.Status(), strings.TrimSpace(resp.String()))
	}
	return s.PublicURL(name), nil
}

// PublicURL is where a public bucket serves the object.
func (s *SupabaseStore) PublicURL(name string) string {
	return s.base + "/storage/v1/object/public/" + url.PathEscape(s.bucket) + "/" + url.PathEscape(name)
}
