// Package registry discovers free models across every configured source and
// serves them from a TTL cache. Sources are fetched concurrently and a
// partial result is still a valid snapshot; one provider being down must not
// hide the others.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/multiai/gateway/internal/config"
	"github.com/multiai/gateway/internal/httpx"
	"github.com/multiai/gateway/internal/telemetry"
)

// redisSnapshotKey is the single cache key shared by all instances pointing
// at the same Redis. The snapshot is global, not per request.
const redisSnapshotKey = "multiai:models:snapshot"

// Registry aggregates free models from Ollama, OpenCode Zen and OpenRouter.
type Registry struct {
	fetcher      *httpx.Fetcher
	sources      config.SourcesConfig
	ttl          time.Duration
	fetchTimeout time.Duration

	rdb     *redis.Client
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu     sync.RWMutex
	cached *Snapshot
}

// Option configures optional Registry collaborators.
type Option func(*Registry)

// WithRedis mirrors snapshots into Redis so restarts and sibling instances
// start warm.
func WithRedis(rdb *redis.Client) Option {
	return func(r *Registry) { r.rdb = rdb }
}

// WithMetrics wires fetch counters and the snapshot size gauge.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New builds a Registry from configuration. The fetcher is rate limited so
// discovery cannot hammer the upstream listing endpoints.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		fetcher: httpx.NewFetcher(
			httpx.WithRateLimit(cfg.Registry.FetchRPS),
			httpx.WithClient(httpx.NewClientWithTimeout(cfg.Registry.FetchTimeout)),
		),
		sources:      cfg.Sources,
		ttl:          cfg.Registry.CacheTTL,
		fetchTimeout: cfg.Registry.FetchTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns the current free-model snapshot, refreshing it when the
// cache is stale. force bypasses the TTL and always hits the sources.
func (r *Registry) Snapshot(ctx context.Context, force bool) (*Snapshot, error) {
	if !force {
		if snap := r.freshCached(); snap != nil {
			return snap, nil
		}
		if snap := r.fromRedis(ctx); snap != nil {
			r.store(snap)
			return snap, nil
		}
	}
	return r.refresh(ctx)
}

func (r *Registry) freshCached() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached != nil && time.Since(r.cached.FetchedAt) < r.ttl {
		return r.cached
	}
	return nil
}

// refresh fetches every source concurrently, each under its own timeout so
// one slow provider cannot stall the rest. Fetch errors are logged and
// dropped; whatever succeeded becomes the snapshot.
func (r *Registry) refresh(ctx context.Context) (*Snapshot, error) {
	type result struct {
		source Source
		models []FreeModel
		err    error
	}

	fetchers := map[Source]func(context.Context) ([]FreeModel, error){
		SourceOllama:     r.fetchOllama,
		SourceZen:        r.fetchZen,
		SourceOpenRouter: r.fetchOpenRouter,
	}

	results := make(chan result, len(fetchers))
	var wg sync.WaitGroup
	for source, fetch := range fetchers {
		wg.Add(1)
		go func(source Source, fetch func(context.Context) ([]FreeModel, error)) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
			defer cancel()
			models, err := fetch(fetchCtx)
			results <- result{source: source, models: models, err: err}
		}(source, fetch)
	}
	wg.Wait()
	close(results)

	var models []FreeModel
	for res := range results {
		if res.err != nil {
			r.metrics.RecordRegistryFetch(res.source.String(), "error")
			r.logger.Warn("source fetch failed",
				slog.String("source", res.source.String()),
				slog.String("error", res.err.Error()))
			continue
		}
		r.metrics.RecordRegistryFetch(res.source.String(), "ok")
		models = append(models, res.models...)
	}

	sortModels(models)

	snap := &Snapshot{Models: models, FetchedAt: time.Now().UTC()}
	r.store(snap)
	r.toRedis(ctx, snap)
	r.metrics.RecordSnapshotSize(len(models))
	r.logger.Info("model snapshot refreshed", slog.Int("models", len(models)))
	return snap, nil
}

// apiBase strips the /models listing suffix off a discovery URL, leaving the
// API root that chat completion paths are appended to.
func apiBase(listingURL string) string {
	return strings.TrimSuffix(listingURL, "/models")
}

// sortModels orders a snapshot: local first, then Zen, then OpenRouter, ids
// alphabetical within a source. "auto" resolves to the first entry.
func sortModels(models []FreeModel) {
	sort.Slice(models, func(i, j int) bool {
		if models[i].Source != models[j].Source {
			return models[i].Source < models[j].Source
		}
		return models[i].ID < models[j].ID
	})
}

func (r *Registry) store(snap *Snapshot) {
	r.mu.Lock()
	r.cached = snap
	r.mu.Unlock()
}

func (r *Registry) fromRedis(ctx context.Context) *Snapshot {
	if r.rdb == nil {
		return nil
	}
	raw, err := r.rdb.Get(ctx, redisSnapshotKey).Bytes()
	if err != nil {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		r.logger.Warn("discarding unreadable cached snapshot", slog.String("error", err.Error()))
		return nil
	}
	if time.Since(snap.FetchedAt) >= r.ttl {
		return nil
	}
	return &snap
}

func (r *Registry) toRedis(ctx context.Context, snap *Snapshot) {
	if r.rdb == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, redisSnapshotKey, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("snapshot cache write failed", slog.String("error", err.Error()))
	}
}

// Find returns the snapshot entry for a model id, or false when the id is
// not currently free.
func (snap *Snapshot) Find(id string) (FreeModel, bool) {
	for _, m := range snap.Models {
		if m.ID == id {
			return m, true
		}
	}
	return FreeModel{}, false
}

// Grouped buckets the snapshot by normalized display name, so the same
// model offered through several providers shows as one entry with its
// offerings in source-priority order. Snapshot order already encodes that
// priority.
func (snap *Snapshot) Grouped() map[string][]FreeModel {
	groups := make(map[string][]FreeModel)
	for _, m := range snap.Models {
		name := NormalizeModelName(m.ID)
		groups[name] = append(groups[name], m)
	}
	return groups
}
