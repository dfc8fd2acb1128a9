package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/config"
	"github.com/snarg/vidshelf/internal/media"
)

// Lister finds items related to a media item: the other videos in its
// directory.
type Lister interface {
	Related(ctx context.Context, item media.Item) ([]media.Item, error)
}

// New picks a lister for the configuration: local sources first, then the
// remote Media Service. It returns nil when neither is configured.
func New(cfg *config.Config, local *media.LocalStore, log zerolog.Logger) (Lister, error) {
	if local != nil && len(local.Sources()) > 0 {
		c, err := NewLocal(local, cfg.Catalog, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	if cfg.Media.ServiceURL != "" {
		return NewRemote(cfg.Media.ServiceURL, cfg.Media.Token, cfg.Catalog.Limit), nil
	}
	return nil, nil
}

// Local lists siblings from source roots on disk. Directory listings are
// cached and, when watching is enabled, invalidated by fsnotify events.
type Local struct {
	store *media.LocalStore
	exts  map[string]bool
	limit int
	log   zerolog.Logger

	mu      sync.Mutex
	cache   map[string][]string // directory -> sorted video file names
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLocal creates a local lister. With cfg.Watch it starts a watcher
// goroutine that Close stops.
func NewLocal(store *media.LocalStore, cfg config.CatalogConfig, log zerolog.Logger) (*Local, error) {
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = true
	}
	limit := cfg.Limit
	if limit < 1 {
		limit = 10
	}
	c := &Local{
		store: store,
		exts:  exts,
		limit: limit,
		log:   log,
		cache: make(map[string][]string),
		done:  make(chan struct{}),
	}
	if !cfg.Watch {
		close(c.done)
		return c, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	c.watcher = w
	go c.watchLoop()
	log.Info().Strs("sources", store.Sources()).Msg("catalog watching source directories")
	return c, nil
}

// Related returns up to the configured number of sibling videos, sorted by
// name, excluding item itself.
func (c *Local) Related(_ context.Context, item media.Item) ([]media.Item, error) {
	full := c.store.ResolveFile(item)
	if full == "" {
		return nil, media.ErrNotFound
	}
	rel, err := media.CleanRelative(item.RelativePath)
	if err != nil {
		return nil, err
	}

	names, err := c.list(filepath.Dir(full))
	if err != nil {
		return nil, err
	}

	self := filepath.Base(full)
	relDir := path.Dir(rel)
	out := make([]media.Item, 0, min(len(names), c.limit))
	for _, name := range names {
		if name == self {
			continue
		}
		sibling := name
		if relDir != "." {
			sibling = relDir + "/" + name
		}
		out = append(out, media.Item{SourceID: item.SourceID, RelativePath: sibling})
		if len(out) == c.limit {
			break
		}
	}
	return out, nil
}

func (c *Local) list(dir string) ([]string, error) {
	if c.watcher != nil {
		c.mu.Lock()
		names, ok := c.cache[dir]
		c.mu.Unlock()
		if ok {
			return names, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !c.exts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if c.watcher != nil {
		if err := c.watcher.Add(dir); err != nil {
			c.log.Warn().Err(err).Str("dir", dir).Msg("failed to watch directory, listing uncached")
			return names, nil
		}
		c.mu.Lock()
		c.cache[dir] = names
		c.mu.Unlock()
	}
	return names, nil
}

// CachedDirs returns the number of cached directory listings.
func (c *Local) CachedDirs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *Local) watchLoop() {
	defer close(c.done)
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			dir := filepath.Dir(event.Name)
			c.mu.Lock()
			_, cached := c.cache[dir]
			delete(c.cache, dir)
			c.mu.Unlock()
			if cached {
				c.log.Debug().Str("dir", dir).Str("op", event.Op.String()).Msg("catalog listing invalidated")
			}

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// Close stops the watcher.
func (c *Local) Close() error {
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	<-c.done
	return err
}

// Remote asks the Media Service for related items via
// GET {base}/related/{sourceId}/{relativePath}?limit=N.
type Remote struct {
	base   string
	token  string
	limit  int
	client *http.Client
}

func NewRemote(baseURL, token string, limit int) *Remote {
	if limit < 1 {
		limit = 10
	}
	return &Remote{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		limit:  limit,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Remote) Related(ctx context.Context, item media.Item) ([]media.Item, error) {
	rel, err := media.CleanRelative(item.RelativePath)
	if err != nil {
		return nil, err
	}
	u := c.base + "/related/" + url.PathEscape(item.SourceID) + "/" + media.EscapePath(rel) +
		"?limit=" + strconv.Itoa(c.limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media service request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, media.ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("media service error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var items []struct {
		SourceID     string `json:"sourceId"`
		RelativePath string `json:"relativePath"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode related items: %w", err)
	}

	out := make([]media.Item, 0, len(items))
	for _, raw := range items {
		it := media.Item{SourceID: raw.SourceID, RelativePath: raw.RelativePath}
		if !it.Valid() || it == item {
			continue
		}
		out = append(out, it)
		if len(out) == c.limit {
			break
		}
	}
	return out, nil
}
