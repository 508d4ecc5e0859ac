// Package jwks resolves signature verification keys published by an
// external identity provider as a JSON Web Key Set.
package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	// ErrKeyUnavailable is returned when the key set cannot be fetched or
	// parsed. Callers must treat it as a verification failure.
	ErrKeyUnavailable = errors.New("signing key unavailable")

	// ErrKeyNotFound is returned when the key set has no key with the
	// requested key identifier.
	ErrKeyNotFound = errors.New("signing key not found")
)

// Fetch failure classes. They are wrapped inside ErrKeyUnavailable so the
// cause can be logged while callers see a single error kind.
var (
	errFetchNetwork = errors.New("network")
	errFetchStatus  = errors.New("status")
	errFetchParse   = errors.New("parse")
)

const maxKeySetBytes = 1 << 20

// Config controls how a Resolver reaches the key-set endpoint.
type Config struct {
	URL string
	// TTL bounds how long a fetched key set is trusted. Zero keeps keys
	// for the process lifetime.
	TTL time.Duration
	// FetchTimeout bounds a single key-set request.
	FetchTimeout time.Duration
	// MinRefreshInterval stops unknown key identifiers from triggering a
	// refetch on every request.
	MinRefreshInterval time.Duration
}

// DefaultConfig returns the settings used when the configuration file
// leaves them out.
func DefaultConfig(url string) Config {
	return Config{
		URL:                url,
		TTL:                time.Hour,
		FetchTimeout:       5 * time.Second,
		MinRefreshInterval: 30 * time.Second,
	}
}

// snapshot is never mutated after it is published.
type snapshot struct {
	keys      map[string]any
	fetchedAt time.Time
}

// Resolver fetches and caches public keys by key identifier. It is safe for
// concurrent use: readers load the current snapshot without locking and a
// refresh publishes a new snapshot with an atomic swap. Concurrent misses
// may fetch more than once.
type Resolver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	current atomic.Pointer[snapshot]
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client used for key-set requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver for the key set at cfg.URL. No request is
// made until the first key is resolved.
func NewResolver(cfg Config, logger *slog.Logger, opts ...Option) *Resolver {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	r := &Resolver{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveKey returns the public key registered under keyID. A cached key is
// returned without a network round trip; otherwise the key set is fetched
// once and the lookup repeated against the fresh copy.
func (r *Resolver) ResolveKey(ctx context.Context, keyID string) (any, error) {
	snap := r.current.Load()
	now := r.now()

	if snap != nil && r.fresh(snap, now) {
		if key, ok := snap.keys[keyID]; ok {
			return key, nil
		}
		if now.Sub(snap.fetchedAt) < r.cfg.MinRefreshInterval {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, keyID)
		}
	}

	keys, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("key set fetch failed", "url", r.cfg.URL, "class", failureClass(err), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	next := &snapshot{keys: keys, fetchedAt: r.now()}
	r.current.Store(next)
	r.logger.Debug("key set refreshed", "url", r.cfg.URL, "keys", len(keys))

	key, ok := next.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, keyID)
	}
	return key, nil
}

// Refresh fetches the key set unconditionally and replaces the cache.
func (r *Resolver) Refresh(ctx context.Context) error {
	keys, err := r.fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	r.current.Store(&snapshot{keys: keys, fetchedAt: r.now()})
	return nil
}

// KeyIDs lists the key identifiers in the current cache.
func (r *Resolver) KeyIDs() []string {
	snap := r.current.Load()
	if snap == nil {
		return nil
	}
	ids := make([]string, 0, len(snap.keys))
	for id := range snap.keys {
		ids = append(ids, id)
	}
	return ids
}

func (r *Resolver) fresh(snap *snapshot, now time.Time) bool {
	if r.cfg.TTL <= 0 {
		return true
	}
	return now.Sub(snap.fetchedAt) < r.cfg.TTL
}

func (r *Resolver) fetch(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", errFetchNetwork, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errFetchNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: endpoint returned %d", errFetchStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errFetchNetwork, err)
	}
	return parseKeySet(body)
}

// parseKeySet extracts the public keys usable for signature verification.
// Keys without an identifier or marked for encryption are skipped.
func parseKeySet(body []byte) (map[string]any, error) {
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errFetchParse, err)
	}

	keys := make(map[string]any, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" || key.KeyUsage() == string(jwk.ForEncryption) {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			continue
		}
		keys[kid] = raw
	}
	return keys, nil
}

func failureClass(err error) string {
	switch {
	case errors.Is(err, errFetchParse):
		return "parse"
	case errors.Is(err, errFetchStatus):
		return "status"
	default:
		return "network"
	}
}
