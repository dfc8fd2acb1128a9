package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore serves media from source roots on the local filesystem.
type LocalStore struct {
	roots map[string]string
}

// NewLocalStore creates a store over the given source id → root directory map.
func NewLocalStore(roots map[string]string) *LocalStore {
	cleaned := make(map[string]string, len(roots))
	for id, root := range roots {
		cleaned[id] = filepath.Clean(root)
	}
	return &LocalStore{roots: cleaned}
}

// Root returns the root directory for a source id.
func (s *LocalStore) Root(sourceID string) (string, bool) {
	root, ok := s.roots[sourceID]
	return root, ok
}

// Sources returns the configured source ids.
func (s *LocalStore) Sources() []string {
	ids := make([]string, 0, len(s.roots))
	for id := range s.roots {
		ids = append(ids, id)
	}
	return ids
}

// ResolveFile maps an item to its file on disk. It returns "" when the
// source is unknown, the path escapes the root, or the file is missing.
func (s *LocalStore) ResolveFile(item Item) string {
	root, ok := s.roots[item.SourceID]
	if !ok {
		return ""
	}
	rel, err := CleanRelative(item.RelativePath)
	if err != nil {
		return ""
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if !within(root, full) {
		return ""
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return ""
	}
	return full
}

func (s *LocalStore) LocalPath(item Item) string {
	return s.ResolveFile(item)
}

func (s *LocalStore) Open(ctx context.Context, item Item, byteRange string) (*Stream, error) {
	if _, ok := s.roots[item.SourceID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, item.SourceID)
	}
	path := s.ResolveFile(item)
	if path == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, item.Key())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	ct := ContentType(path)

	if byteRange == "" {
		return &Stream{Body: f, ContentType: ct, ContentLength: size}, nil
	}

	r, err := ParseRange(byteRange, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Stream{
		Body:          readCloser{io.NewSectionReader(f, r.Start, r.Length), f},
		ContentType:   ct,
		ContentLength: r.Length,
		ContentRange:  r.ContentRange(size),
		Partial:       true,
	}, nil
}

func (s *LocalStore) Type() string { return "local" }

// ContentType guesses a media type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func within(root, full string) bool {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type readCloser struct {
	io.Reader
	io.Closer
}
