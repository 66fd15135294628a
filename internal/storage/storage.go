package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Upload timeout per attempt — generous for multi-hundred-MB final videos
	uploadTimeout = 300 * time.Second

	// Download timeout per attempt
	downloadTimeout = 120 * time.Second

	// Retry configuration
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Storage talks to a Supabase-compatible object store. The pipeline uses it
// two ways: resolving sentence material references (image, audio, background
// track) to local scratch files, and persisting the final video artifact.
type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
}

func New(url, serviceKey, bucket string) *Storage {
	return &Storage{
		url:        url,
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// FetchToFile resolves a storage reference to a local file, retrying
// transient failures with exponential backoff. The pipeline treats a final
// failure here as missing material, not as a compositing error.
func (s *Storage) FetchToFile(ctx context.Context, ref, localPath string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, ref)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			log.Printf("[Storage] Fetch retry %d/%d for %s (waiting %v)...", attempt, maxRetries, ref, delay)

			select {
			case <-ctx.Done():
				return fmt.Errorf("fetch cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := s.fetchOnce(ctx, url, localPath)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return lastErr
		}
		log.Printf("[Storage] Fetch attempt %d failed (retryable): %v", attempt+1, err)
	}

	return fmt.Errorf("fetch failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (s *Storage) fetchOnce(ctx context.Context, url, localPath string) error {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	// Stream straight to disk; clips and tracks can be large
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(localPath)
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}

	return f.Close()
}

// UploadFile persists a local file under the given storage reference,
// retrying transient failures.
func (s *Storage) UploadFile(ctx context.Context, ref, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", localPath, err)
	}

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, ref)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			log.Printf("[Storage] Upload retry %d/%d for %s (waiting %v)...", attempt, maxRetries, ref, delay)

			select {
			case <-ctx.Done():
				return fmt.Errorf("upload cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := s.uploadOnce(ctx, url, data, contentType)
		if err == nil {
			if attempt > 0 {
				log.Printf("[Storage] Upload succeeded on attempt %d for %s", attempt+1, ref)
			}
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return lastErr
		}
		log.Printf("[Storage] Upload attempt %d failed (retryable): %v", attempt+1, err)
	}

	return fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (s *Storage) uploadOnce(ctx context.Context, url string, data []byte, contentType string) error {
	upCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(upCtx, "PUT", url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	return &statusError{code: resp.StatusCode, body: string(body)}
}

// GetPublicURL returns the public URL for a stored object.
func (s *Storage) GetPublicURL(ref string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, ref)
}

// GetSignedURL creates a signed URL for temporary access to an object.
func (s *Storage) GetSignedURL(ctx context.Context, ref string, expiresIn int) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.Bucket, ref)

	body := fmt.Sprintf(`{"expiresIn": %d}`, expiresIn)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBufferString(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get signed URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}

	return s.url + result.SignedURL, nil
}

// FinalVideoRef builds the storage reference for a task's final artifact.
func FinalVideoRef(chapterID, taskID uuid.UUID) string {
	return filepath.Join(chapterID.String(), taskID.String(), "final.mp4")
}

// statusError lets retry classification look at the HTTP status code.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, truncate(e.body, 200))
}

// retryDelay calculates exponential backoff with jitter: base * 2^attempt + random jitter
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	// Add 0-25% jitter to avoid thundering herd
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryable checks whether an error is worth another attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if se, ok := err.(*statusError); ok {
		switch se.code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusBadGateway, http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
