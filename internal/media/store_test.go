package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		size       int64
		wantStart  int64
		wantLength int64
		wantErr    bool
	}{
		{"closed", "bytes=0-9", 100, 0, 10, false},
		{"open_ended", "bytes=90-", 100, 90, 10, false},
		{"suffix", "bytes=-5", 100, 95, 5, false},
		{"suffix_larger_than_file", "bytes=-500", 100, 0, 100, false},
		{"end_clamped", "bytes=50-1000", 100, 50, 50, false},
		{"start_past_end", "bytes=100-", 100, 0, 0, true},
		{"end_before_start", "bytes=10-5", 100, 0, 0, true},
		{"multi_span", "bytes=0-1,5-6", 100, 0, 0, true},
		{"wrong_unit", "items=0-1", 100, 0, 0, true},
		{"garbage", "bytes=a-b", 100, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.header, tt.size)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRange) {
					t.Fatalf("err = %v, want ErrInvalidRange", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange: %v", err)
			}
			if r.Start != tt.wantStart || r.Length != tt.wantLength {
				t.Errorf("got {%d %d}, want {%d %d}", r.Start, r.Length, tt.wantStart, tt.wantLength)
			}
		})
	}

	if got := (ByteRange{Start: 0, Length: 10}).ContentRange(100); got != "bytes 0-9/100" {
		t.Errorf("ContentRange = %q, want bytes 0-9/100", got)
	}
}

func TestLocalStore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shows", "ep1.mp4"), "0123456789")
	store := NewLocalStore(map[string]string{"1": root})
	item := Item{SourceID: "1", RelativePath: "shows/ep1.mp4"}

	t.Run("local_path_resolves", func(t *testing.T) {
		want := filepath.Join(root, "shows", "ep1.mp4")
		if got := store.LocalPath(item); got != want {
			t.Errorf("LocalPath = %q, want %q", got, want)
		}
	})

	t.Run("traversal_rejected", func(t *testing.T) {
		if got := store.LocalPath(Item{SourceID: "1", RelativePath: "../etc/passwd"}); got != "" {
			t.Errorf("LocalPath = %q, want empty", got)
		}
	})

	t.Run("directory_not_a_file", func(t *testing.T) {
		if got := store.LocalPath(Item{SourceID: "1", RelativePath: "shows"}); got != "" {
			t.Errorf("LocalPath = %q, want empty", got)
		}
	})

	t.Run("open_full", func(t *testing.T) {
		s, err := store.Open(context.Background(), item, "")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Body.Close()
		data, _ := io.ReadAll(s.Body)
		if string(data) != "0123456789" {
			t.Errorf("body = %q", data)
		}
		if s.ContentType != "video/mp4" {
			t.Errorf("ContentType = %q, want video/mp4", s.ContentType)
		}
		if s.Partial {
			t.Error("Partial = true for full request")
		}
	})

	t.Run("open_range", func(t *testing.T) {
		s, err := store.Open(context.Background(), item, "bytes=2-4")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Body.Close()
		data, _ := io.ReadAll(s.Body)
		if string(data) != "234" {
			t.Errorf("body = %q, want 234", data)
		}
		if s.ContentRange != "bytes 2-4/10" {
			t.Errorf("ContentRange = %q, want bytes 2-4/10", s.ContentRange)
		}
		if !s.Partial {
			t.Error("Partial = false for range request")
		}
	})

	t.Run("unknown_source", func(t *testing.T) {
		_, err := store.Open(context.Background(), Item{SourceID: "9", RelativePath: "a.mp4"}, "")
		if !errors.Is(err, ErrUnknownSource) {
			t.Errorf("err = %v, want ErrUnknownSource", err)
		}
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := store.Open(context.Background(), Item{SourceID: "1", RelativePath: "nope.mp4"}, "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestRemoteStore(t *testing.T) {
	var gotPath, gotRange, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotRange = r.Header.Get("Range")
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path == "/stream/1/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 0-2/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("abc"))
	}))
	defer srv.Close()

	store := NewRemoteStore(srv.URL+"/", "tok", 0)

	s, err := store.Open(context.Background(), Item{SourceID: "1", RelativePath: "my show/ep 1.mp4"}, "bytes=0-2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Body.Close()
	if gotPath != "/stream/1/my%20show/ep%201.mp4" {
		t.Errorf("path = %q", gotPath)
	}
	if gotRange != "bytes=0-2" {
		t.Errorf("Range = %q, want bytes=0-2", gotRange)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if !s.Partial || s.ContentRange != "bytes 0-2/10" {
		t.Errorf("Partial = %v ContentRange = %q", s.Partial, s.ContentRange)
	}

	_, err = store.Open(context.Background(), Item{SourceID: "1", RelativePath: "missing.mp4"}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestChainStore(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootB, "only-b.mp4"), "bbb")

	chain := NewChainStore(zerolog.Nop(),
		NewLocalStore(map[string]string{"1": rootA}),
		NewLocalStore(map[string]string{"1": rootB}),
	)
	item := Item{SourceID: "1", RelativePath: "only-b.mp4"}

	if got := chain.LocalPath(item); got != filepath.Join(rootB, "only-b.mp4") {
		t.Errorf("LocalPath = %q", got)
	}
	s, err := chain.Open(context.Background(), item, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Body.Close()

	_, err = chain.Open(context.Background(), Item{SourceID: "1", RelativePath: "none.mp4"}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEscapePath(t *testing.T) {
	if got := EscapePath("a b/c#d.mp4"); got != "a%20b/c%23d.mp4" {
		t.Errorf("EscapePath = %q", got)
	}
}
