package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/config"
)

var (
	// ErrNotFound is returned when no backend holds the requested item.
	ErrNotFound = errors.New("media not found")
	// ErrUnknownSource is returned for a source id with no configured root.
	ErrUnknownSource = errors.New("unknown media source")
)

// Stream is an open byte stream for one item, possibly a sub-range.
type Stream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64  // -1 when unknown
	ContentRange  string // set only for partial responses
	Partial       bool
}

// Store abstracts the backends that can serve media bytes.
type Store interface {
	// LocalPath returns the file on this host holding the item, or "".
	LocalPath(item Item) string

	// Open returns the item's bytes. byteRange is a raw HTTP Range header
	// value; "" requests the whole file.
	Open(ctx context.Context, item Item, byteRange string) (*Stream, error)

	// Type returns "local", "s3", "remote" or "chain".
	Type() string
}

// New builds the media store from config. Local source roots always come
// first; S3 and the remote Media Service are consulted in that order for
// items not found on disk.
func New(cfg *config.Config, log zerolog.Logger) (Store, error) {
	var stores []Store
	if len(cfg.Media.Sources) > 0 {
		stores = append(stores, NewLocalStore(cfg.Media.Sources))
	}

	if cfg.S3.Enabled() {
		s3store, err := NewS3Store(cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("S3 init failed: %w", err)
		}

		// Startup validation: verify credentials and bucket access
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s3store.HeadBucket(ctx); err != nil {
			return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
				cfg.S3.Bucket, cfg.S3.Endpoint, err)
		}
		log.Info().Str("bucket", cfg.S3.Bucket).Str("endpoint", cfg.S3.Endpoint).Msg("S3 connection verified")
		stores = append(stores, s3store)
	}

	if cfg.Media.ServiceURL != "" {
		stores = append(stores, NewRemoteStore(cfg.Media.ServiceURL, cfg.Media.Token, 0))
	}

	switch len(stores) {
	case 0:
		return nil, errors.New("no media backend configured: set MEDIA_SOURCES, S3_BUCKET or MEDIA_SERVICE_URL")
	case 1:
		return stores[0], nil
	default:
		return NewChainStore(log, stores...), nil
	}
}

// ChainStore tries each backend in order until one holds the item.
type ChainStore struct {
	stores []Store
	log    zerolog.Logger
}

// NewChainStore combines backends, earlier ones taking priority.
func NewChainStore(log zerolog.Logger, stores ...Store) *ChainStore {
	return &ChainStore{
		stores: stores,
		log:    log.With().Str("component", "media-chain").Logger(),
	}
}

func (s *ChainStore) LocalPath(item Item) string {
	for _, st := range s.stores {
		if p := st.LocalPath(item); p != "" {
			return p
		}
	}
	return ""
}

func (s *ChainStore) Open(ctx context.Context, item Item, byteRange string) (*Stream, error) {
	lastErr := ErrNotFound
	for _, st := range s.stores {
		stream, err := st.Open(ctx, item, byteRange)
		if err == nil {
			return stream, nil
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnknownSource) {
			s.log.Warn().Err(err).Str("backend", st.Type()).Str("item", item.Key()).Msg("media backend failed, trying next")
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *ChainStore) Type() string { return "chain" }
