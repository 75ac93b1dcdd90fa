package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore persists objects on the local filesystem, one directory per
// bucket. It is intended for development and test environments where an
// object storage service is not available. Signed URLs are plain links under
// the configured base URL; nothing is actually signed.
type FileStore struct {
	basePath string
	baseURL  string
}

var _ ObjectStore = (*FileStore)(nil)

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload writes data at bucket/key and returns the canonicalized key. Keys
// are cleaned to prevent directory traversal.
func (s *FileStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, bucket, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// SignedURL returns a static URL under the configured base URL. The ttl is
// ignored; local files do not expire.
func (s *FileStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/" + bucket + "/" + cleanKey, nil
}

// Delete removes the given keys. Missing files are a no-op so that deleting a
// job which never produced an artifact stays idempotent.
func (s *FileStore) Delete(ctx context.Context, bucket string, keys ...string) error {
	for _, key := range keys {
		cleanKey, err := sanitizeKey(key)
		if err != nil {
			return err
		}
		fullPath := filepath.Join(s.basePath, bucket, filepath.FromSlash(cleanKey))
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("storage: remove file: %w", err)
		}
	}
	return nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
