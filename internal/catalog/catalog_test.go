package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/config"
	"github.com/snarg/vidshelf/internal/media"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func catalogConfig(limit int, watch bool) config.CatalogConfig {
	return config.CatalogConfig{Limit: limit, Extensions: []string{".mp4", ".mkv"}, Watch: watch}
}

func paths(items []media.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.RelativePath
	}
	return out
}

func TestLocalRelated(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"ep1.mp4", "ep2.MKV", "ep3.mp4", "notes.txt", "cover.jpg"} {
		touch(t, filepath.Join(root, "show", name))
	}
	touch(t, filepath.Join(root, "show", "extras", "bonus.mp4"))
	touch(t, filepath.Join(root, "top.mp4"))

	store := media.NewLocalStore(map[string]string{"lib": root})

	t.Run("siblings_exclude_self", func(t *testing.T) {
		c, err := NewLocal(store, catalogConfig(10, false), zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		got, err := c.Related(context.Background(), media.Item{SourceID: "lib", RelativePath: "show/ep1.mp4"})
		if err != nil {
			t.Fatalf("Related: %v", err)
		}
		want := []string{"show/ep2.MKV", "show/ep3.mp4"}
		if fmt.Sprint(paths(got)) != fmt.Sprint(want) {
			t.Errorf("Related = %v, want %v", paths(got), want)
		}
	})

	t.Run("limit_applied", func(t *testing.T) {
		c, _ := NewLocal(store, catalogConfig(1, false), zerolog.Nop())
		got, err := c.Related(context.Background(), media.Item{SourceID: "lib", RelativePath: "show/ep3.mp4"})
		if err != nil {
			t.Fatalf("Related: %v", err)
		}
		if len(got) != 1 || got[0].RelativePath != "show/ep1.mp4" {
			t.Errorf("Related = %v, want [show/ep1.mp4]", paths(got))
		}
	})

	t.Run("root_level_item", func(t *testing.T) {
		c, _ := NewLocal(store, catalogConfig(10, false), zerolog.Nop())
		got, err := c.Related(context.Background(), media.Item{SourceID: "lib", RelativePath: "top.mp4"})
		if err != nil {
			t.Fatalf("Related: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Related = %v, want none", paths(got))
		}
	})

	t.Run("missing_item", func(t *testing.T) {
		c, _ := NewLocal(store, catalogConfig(10, false), zerolog.Nop())
		_, err := c.Related(context.Background(), media.Item{SourceID: "lib", RelativePath: "show/nope.mp4"})
		if !errors.Is(err, media.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestLocalWatchInvalidatesCache(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp4"))
	touch(t, filepath.Join(root, "b.mp4"))

	c, err := NewLocal(media.NewLocalStore(map[string]string{"lib": root}), catalogConfig(10, true), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	item := media.Item{SourceID: "lib", RelativePath: "a.mp4"}
	got, err := c.Related(context.Background(), item)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Related = %v, want [b.mp4]", paths(got))
	}
	if c.CachedDirs() != 1 {
		t.Fatalf("CachedDirs = %d, want 1", c.CachedDirs())
	}

	touch(t, filepath.Join(root, "c.mp4"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ = c.Related(context.Background(), item)
		if len(got) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("new file never appeared: Related = %v", paths(got))
}

func TestRemoteRelated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/related/lib/show/ep%201.mp4" {
			t.Errorf("path = %q", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		io.WriteString(w, `[
			{"sourceId":"lib","relativePath":"show/ep 1.mp4"},
			{"sourceId":"lib","relativePath":"show/ep 2.mp4"},
			{"sourceId":"","relativePath":"bad.mp4"},
			{"sourceId":"lib","relativePath":"show/ep 3.mp4"},
			{"sourceId":"lib","relativePath":"show/ep 4.mp4"}
		]`)
	}))
	defer srv.Close()

	c := NewRemote(srv.URL, "tok", 2)
	got, err := c.Related(context.Background(), media.Item{SourceID: "lib", RelativePath: "show/ep 1.mp4"})
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	want := []string{"show/ep 2.mp4", "show/ep 3.mp4"}
	if fmt.Sprint(paths(got)) != fmt.Sprint(want) {
		t.Errorf("Related = %v, want %v", paths(got), want)
	}
}

func TestRemoteRelatedNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, "", 10).Related(context.Background(), media.Item{SourceID: "lib", RelativePath: "x.mp4"})
	if !errors.Is(err, media.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
