package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RemoteStore proxies a Media Service that serves
// GET {base}/stream/{sourceId}/{relativePath} with Range support.
type RemoteStore struct {
	base   string
	token  string
	client *http.Client
}

// NewRemoteStore creates a store backed by a remote Media Service. A zero
// timeout leaves the transfer unbounded, which long video streams need.
func NewRemoteStore(baseURL, token string, timeout time.Duration) *RemoteStore {
	return &RemoteStore{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *RemoteStore) LocalPath(item Item) string {
	return ""
}

func (s *RemoteStore) Open(ctx context.Context, item Item, byteRange string) (*Stream, error) {
	rel, err := CleanRelative(item.RelativePath)
	if err != nil {
		return nil, err
	}
	u := s.base + "/stream/" + url.PathEscape(item.SourceID) + "/" + EscapePath(rel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media service request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, item.Key())
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, byteRange)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("media service error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = ContentType(rel)
	}
	return &Stream{
		Body:          resp.Body,
		ContentType:   ct,
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		Partial:       resp.StatusCode == http.StatusPartialContent,
	}, nil
}

func (s *RemoteStore) Type() string { return "remote" }

// EscapePath escapes each segment of a slash-separated path, keeping the
// separators.
func EscapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
