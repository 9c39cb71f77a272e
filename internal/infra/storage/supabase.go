package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"

	"github.com/chadiek/historia/internal/conversation"
)

// SupabaseConfig addresses the bucket object that holds the history array.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
	Key            string
}

// SupabaseHistory keeps the history array as a single Supabase Storage object.
type SupabaseHistory struct {
	client *supabase.Client
	bucket string
	object string
}

// NewSupabaseHistory constructs a Supabase-backed history store.
func NewSupabaseHistory(cfg SupabaseConfig) (*SupabaseHistory, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	key := cfg.Key
	if key == "" {
		key = DefaultHistoryKey
	}
	return &SupabaseHistory{client: client, bucket: cfg.Bucket, object: key + ".json"}, nil
}

// LoadHistory downloads the object; a missing object is an empty history.
func (s *SupabaseHistory) LoadHistory(_ context.Context) ([]conversation.Session, error) {
	data, err := s.client.Storage.DownloadFile(s.bucket, s.object)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to download from Supabase: %w", err)
	}
	return decodeHistory(data)
}

// SaveHistory replaces the object with the whole array, creating it on first save.
func (s *SupabaseHistory) SaveHistory(_ context.Context, history []conversation.Session) error {
	data, err := encodeHistory(history)
	if err != nil {
		return err
	}
	if _, err := s.client.Storage.UpdateFile(s.bucket, s.object, bytes.NewReader(data)); err == nil {
		return nil
	}
	if _, err := s.client.Storage.UploadFile(s.bucket, s.object, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}
