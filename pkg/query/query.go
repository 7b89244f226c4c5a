// Package query is the cache-first read path. Reads are served from the
// store while the cached row is fresh and fall through to the external
// provider otherwise; every provider response is written back through the
// store's upsert so the cache converges on what the provider reports.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azkit/azkit/pkg/engine"
	"github.com/azkit/azkit/pkg/stores"
	"github.com/azkit/azkit/pkg/telemetry"
)

// Provider is the cache-miss backend. Satisfied by the azure client.
type Provider interface {
	ShowResource(ctx context.Context, resourceType, name, group string) (*stores.Resource, error)
	ListResources(ctx context.Context, resourceType, group string) ([]*stores.Resource, error)
}

// Config tunes cache freshness. List results age out faster than single
// resources because a list answers "what exists", which drifts sooner
// than the state of one known resource.
type Config struct {
	ResourceTTL time.Duration
	ListTTL     time.Duration
}

// DefaultConfig returns the default cache TTLs.
func DefaultConfig() Config {
	return Config{
		ResourceTTL: 15 * time.Minute,
		ListTTL:     5 * time.Minute,
	}
}

// Service answers resource queries cache-first and keeps the store in
// sync with the provider. It satisfies the executor's ResourceQuerier.
type Service struct {
	store    stores.Store
	provider Provider
	cfg      Config
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewService creates a query service over the given store and provider.
func NewService(store stores.Store, provider Provider, cfg Config, logger *telemetry.Logger, metrics *telemetry.Metrics) *Service {
	if cfg.ResourceTTL <= 0 {
		cfg.ResourceTTL = DefaultConfig().ResourceTTL
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = DefaultConfig().ListTTL
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Service{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger.NewComponentLogger("query"),
		metrics:  metrics,
	}
}

// QueryResource returns one resource, from cache while fresh, otherwise
// from the provider with the result written back. A provider not-found
// for a resource the store still holds soft-deletes the stale row.
func (s *Service) QueryResource(ctx context.Context, resourceType, name, group string) (*stores.Resource, error) {
	cached, err := s.store.GetResource(ctx, resourceType, name, group)
	if err != nil && !errors.Is(err, stores.ErrNotFound) {
		return nil, err
	}

	if cached != nil && cached.CacheFresh(time.Now().UTC()) {
		s.metrics.RecordCacheHit("resource")
		return cached, nil
	}
	s.metrics.RecordCacheMiss("resource")

	fresh, err := s.provider.ShowResource(ctx, resourceType, name, group)
	if err != nil {
		if isProviderNotFound(err) && cached != nil {
			// The provider is authoritative: the resource is gone.
			s.logger.WithResourceID(cached.ResourceID).
				Info("resource confirmed absent, soft-deleting cached row")
			if delErr := s.store.SoftDeleteResource(ctx, cached.ResourceID); delErr != nil {
				return nil, fmt.Errorf("failed to soft-delete absent resource: %w", delErr)
			}
		}
		return nil, err
	}

	if err := s.store.UpsertResource(ctx, fresh, s.cfg.ResourceTTL); err != nil {
		return nil, err
	}

	return fresh, nil
}

// QueryResources lists resources of a type, optionally scoped to a
// group. The list itself is cached under a composite key with the
// shorter list TTL; individual rows are refreshed at the resource TTL.
func (s *Service) QueryResources(ctx context.Context, resourceType, group string) ([]*stores.Resource, error) {
	key := listKey(resourceType, group)

	fresh, err := s.store.QueryCacheFresh(ctx, key)
	if err != nil {
		return nil, err
	}
	if fresh {
		s.metrics.RecordCacheHit("list")
		return s.store.ListResources(ctx, resourceType, group)
	}
	s.metrics.RecordCacheMiss("list")

	resources, err := s.provider.ListResources(ctx, resourceType, group)
	if err != nil {
		return nil, err
	}

	for _, r := range resources {
		if err := s.store.UpsertResource(ctx, r, s.cfg.ResourceTTL); err != nil {
			return nil, err
		}
	}

	if err := s.store.QueryCachePut(ctx, key, s.cfg.ListTTL); err != nil {
		return nil, err
	}

	return resources, nil
}

// Invalidate expires cached resources matching the glob pattern and
// drops all list-query cache entries, forcing the next reads fresh.
// Called by the executor after every mutating operation.
func (s *Service) Invalidate(ctx context.Context, pattern string) (int64, error) {
	invalidated, err := s.store.InvalidateResources(ctx, pattern)
	if err != nil {
		return 0, err
	}

	if _, err := s.store.QueryCacheClear(ctx); err != nil {
		return invalidated, err
	}

	s.logger.Infof("invalidated %d cached resources matching %q", invalidated, pattern)
	return invalidated, nil
}

// listKey builds the query cache key for a list invocation. Lowercased
// because resource coordinates compare case-insensitively.
func listKey(resourceType, group string) string {
	return "list:" + strings.ToLower(resourceType) + ":" + strings.ToLower(group)
}

// isProviderNotFound reports whether the provider definitively said the
// resource does not exist, as opposed to a transient failure.
func isProviderNotFound(err error) bool {
	var ee *engine.EngineError
	return errors.As(err, &ee) && ee.Code == engine.ErrCodeNotFound
}
