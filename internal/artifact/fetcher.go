package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"tryon-server/internal/storage"
)

// DownloadError reports a failure to retrieve a result image from the
// provider's output URL.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("artifact: download %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("artifact: download %s: http %d", e.URL, e.StatusCode)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// StorageError reports a failure to persist a downloaded result.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact: persist %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Fetcher downloads generated results and persists them into the results
// bucket under a deterministic, job-scoped key.
type Fetcher struct {
	httpClient *http.Client
	store      storage.ObjectStore
	logger     zerolog.Logger
}

// NewFetcher builds a fetcher over the given object store.
func NewFetcher(store storage.ObjectStore, httpClient *http.Client, logger zerolog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{httpClient: httpClient, store: store, logger: logger}
}

// ResultKey derives the storage key for a job's result image.
func ResultKey(userID, jobID string) string {
	return fmt.Sprintf("%s/%s.jpg", userID, jobID)
}

// Fetch downloads the artifact at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	f.logger.Debug().Str("url", url).Int("bytes", len(data)).Msg("artifact: downloaded result")
	return data, nil
}

// Persist writes the bytes under the job-scoped key, overwriting any prior
// object so that re-finalization stays idempotent.
func (f *Fetcher) Persist(ctx context.Context, userID, jobID string, data []byte) (string, error) {
	key := ResultKey(userID, jobID)
	savedKey, err := f.store.Upload(ctx, storage.BucketResults, key, data, "image/jpeg")
	if err != nil {
		return "", &StorageError{Key: key, Err: err}
	}
	return savedKey, nil
}
