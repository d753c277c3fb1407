package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxSnapshotBytes caps the body read from a snapshot endpoint.
const maxSnapshotBytes = 16 << 20

// FetchError is a non-2xx reply from a snapshot endpoint. The response body
// is never kept.
type FetchError struct {
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("snapshot fetch failed (status %d)", e.StatusCode)
}

// HTTPSource fetches a chart snapshot from a renderer endpoint.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource returns a Source that GETs url on every capture.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient overrides the HTTP client.
func (s *HTTPSource) WithHTTPClient(client *http.Client) *HTTPSource {
	if client != nil {
		s.httpClient = client
	}
	return s
}

// Capture implements Source.
func (s *HTTPSource) Capture(ctx context.Context) (Artifact, error) {
	if s.url == "" {
		return Artifact{}, fmt.Errorf("snapshot url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Artifact{}, err
	}
	req.Header.Set("Accept", "image/png, image/jpeg")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Artifact{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Artifact{}, &FetchError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return Artifact{}, fmt.Errorf("read snapshot: %w", err)
	}
	return Decode(data)
}
