package models

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/auth"
	"github.com/n0madic/go-llmportal/internal/logger"
	"github.com/n0madic/go-llmportal/internal/upstream"
)

// DefaultCacheTTL is how long the remote listing is served before a refresh.
const DefaultCacheTTL = 5 * time.Minute

// RemoteModel is one entry of GET /models, annotated with its capabilities.
type RemoteModel struct {
	ID           string       `json:"id"`
	Object       string       `json:"object,omitempty"`
	Created      int64        `json:"created,omitempty"`
	OwnedBy      string       `json:"owned_by,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

type remoteModelsResponse struct {
	Data []RemoteModel `json:"data"`
}

type diskModelsCache struct {
	FetchedAt string        `json:"fetched_at"`
	ETag      string        `json:"etag"`
	Models    []RemoteModel `json:"models"`
}

// Fetcher is the slice of the transport the registry needs.
type Fetcher interface {
	Get(ctx context.Context, endpoint, path string, header http.Header) (*upstream.Response, error)
}

// Registry caches the upstream model listing with a TTL and ETag and
// falls back to the static catalog.
type Registry struct {
	mu        sync.RWMutex
	fetchMu   sync.Mutex // serialises fetches
	fetcher   Fetcher
	ttl       time.Duration
	log       *logger.Logger
	models    []RemoteModel
	lastFetch time.Time
	etag      string
	now       func() time.Time
}

// modelsCachePath is a function variable so tests can override where the
// warm cache lives.
var modelsCachePath = func() string {
	return filepath.Join(auth.HomeDir(), "models_cache.json")
}

// NewRegistry creates a registry and preloads the disk cache if present.
func NewRegistry(f Fetcher, ttl time.Duration, log *logger.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	r := &Registry{fetcher: f, ttl: ttl, log: logger.OrNop(log).Named("models"), now: time.Now}
	r.loadFromDiskCache()
	return r
}

// Models returns the cached listing, refreshing synchronously when empty or
// older than the TTL. Fetch failures fall back to the cache, then to the
// static catalog.
func (r *Registry) Models(ctx context.Context) []RemoteModel {
	r.mu.RLock()
	cached := r.models
	fresh := len(cached) > 0 && r.now().Sub(r.lastFetch) < r.ttl
	r.mu.RUnlock()
	if fresh {
		return cached
	}

	mods, err := r.Refresh(ctx)
	if err != nil {
		r.log.Warn("models.refresh.failed", zap.Error(err))
	}
	return mods
}

// Refresh forces a fetch. On error it still returns the best available list.
func (r *Registry) Refresh(ctx context.Context) ([]RemoteModel, error) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	err := r.doFetch(ctx)
	r.mu.RLock()
	result := r.models
	r.mu.RUnlock()
	if len(result) == 0 {
		return StaticFallback(), err
	}
	return result, err
}

// IsPopulated reports whether the registry holds remote data.
func (r *Registry) IsPopulated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models) > 0
}

// Lookup returns the cached entry for id without triggering a fetch.
func (r *Registry) Lookup(id string) (RemoteModel, bool) {
	id = NormalizeModelName(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.ID == id {
			return m, true
		}
	}
	return RemoteModel{}, false
}

func (r *Registry) doFetch(ctx context.Context) error {
	if r.fetcher == nil {
		return fmt.Errorf("no upstream configured")
	}
	r.mu.RLock()
	etag := r.etag
	r.mu.RUnlock()

	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}
	resp, err := r.fetcher.Get(ctx, "models", "/models", header)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotModified {
		r.mu.Lock()
		r.lastFetch = r.now()
		r.mu.Unlock()
		return nil
	}

	var mr remoteModelsResponse
	if err := json.Unmarshal(resp.Body, &mr); err != nil {
		return fmt.Errorf("failed to parse models response: %w", err)
	}
	for i := range mr.Data {
		mr.Data[i].Capabilities = Classify(mr.Data[i].ID)
	}
	sort.Slice(mr.Data, func(i, j int) bool { return mr.Data[i].ID < mr.Data[j].ID })

	r.mu.Lock()
	r.models = mr.Data
	r.lastFetch = r.now()
	if newEtag := resp.Headers.Get("ETag"); newEtag != "" {
		r.etag = newEtag
	}
	snapshot := diskModelsCache{
		FetchedAt: r.lastFetch.UTC().Format(time.RFC3339Nano),
		ETag:      r.etag,
		Models:    r.models,
	}
	r.mu.Unlock()

	r.storeDiskCache(snapshot)
	return nil
}

func (r *Registry) storeDiskCache(cache diskModelsCache) {
	path := modelsCachePath()
	if path == "" {
		return
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o700)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		r.log.Debug("models.cache.write.failed", zap.Error(err))
	}
}

func (r *Registry) loadFromDiskCache() bool {
	path := modelsCachePath()
	if path == "" {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var cache diskModelsCache
	if err := json.Unmarshal(data, &cache); err != nil || len(cache.Models) == 0 {
		return false
	}

	var fetchedAt time.Time
	if cache.FetchedAt != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, cache.FetchedAt); err == nil {
			fetchedAt = parsed
		}
	}
	for i := range cache.Models {
		cache.Models[i].Capabilities = Classify(cache.Models[i].ID)
	}

	r.mu.Lock()
	r.models = cache.Models
	r.lastFetch = fetchedAt
	r.etag = cache.ETag
	r.mu.Unlock()
	return true
}

// StaticFallback converts the static table to a []RemoteModel slice.
func StaticFallback() []RemoteModel {
	ids := KnownIDs()
	out := make([]RemoteModel, 0, len(ids))
	for _, id := range ids {
		out = append(out, RemoteModel{ID: id, Object: "model", OwnedBy: "static", Capabilities: Classify(id)})
	}
	return out
}
