package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inferpay/inferpay/internal/address"
	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/infra"
	"github.com/inferpay/inferpay/internal/metrics"
)

// DefaultTTL is how long a discovered service set stays cached.
const DefaultTTL = 5 * time.Minute

// ErrNotDiscovered indicates a lookup for a provider absent from the cached set.
var ErrNotDiscovered = errors.New("provider not in discovered services")

// ProviderService is a provider whose metadata resolved with a model.
type ProviderService struct {
	Address  string `json:"address" msgpack:"address"`
	Name     string `json:"name" msgpack:"name"`
	Model    string `json:"model" msgpack:"model"`
	Endpoint string `json:"endpoint" msgpack:"endpoint"`
}

// Options carries the optional collaborators of a Registry.
type Options struct {
	Cache   *infra.Cache
	TTL     time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Registry discovers valid providers for one wallet and tracks the
// selected one.
type Registry struct {
	wallet    string
	inference broker.InferenceCapability
	cache     *infra.Cache
	ttl       time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.RWMutex
	selected string
}

// New builds a registry over the inference capability of b.
func New(b broker.Broker, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Cache
	if c == nil {
		c = infra.NewCache(nil, "", time.Minute)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		wallet:    b.Wallet,
		inference: b.Inference,
		cache:     c,
		ttl:       ttl,
		metrics:   opts.Metrics,
		logger:    logger.With(slog.String("wallet", b.Wallet)),
	}
}

// Discover lists providers from the remote directory and keeps those whose
// metadata resolves with a model, in listing order. A provider whose
// metadata lookup fails is logged and skipped: one bad provider never fails
// the listing. Every call queries the remote directory again.
func (r *Registry) Discover(ctx context.Context) ([]ProviderService, error) {
	listings, err := r.inference.ListServices(ctx)
	if err != nil {
		return nil, errs.FromRemote("registry.discover", "", err)
	}

	valid := make([]ProviderService, 0, len(listings))
	for _, l := range listings {
		meta, err := r.inference.GetServiceMetadata(ctx, l.Provider)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("skipping provider: metadata unavailable",
				slog.String("provider", l.Provider), slog.Any("error", err))
			continue
		}
		if meta.Model == "" {
			r.logger.Info("skipping provider: metadata has no model", slog.String("provider", l.Provider))
			continue
		}
		valid = append(valid, ProviderService{
			Address:  canonical(l.Provider),
			Name:     displayName(l, meta),
			Model:    meta.Model,
			Endpoint: meta.BaseURL(),
		})
	}

	if err := r.cache.Set(ctx, r.cacheKey(), valid, r.ttl); err != nil {
		r.logger.Warn("cache discovered services", slog.Any("error", err))
	}
	r.metrics.Discovered(len(valid))

	if len(valid) > 0 {
		r.mu.Lock()
		if r.selected == "" {
			r.selected = valid[0].Address
		}
		r.mu.Unlock()
	}
	return valid, nil
}

// Cached returns the last discovered set, discovering when nothing is cached.
func (r *Registry) Cached(ctx context.Context) ([]ProviderService, error) {
	var services []ProviderService
	found, err := r.cache.Get(ctx, r.cacheKey(), &services)
	if err != nil {
		r.logger.Warn("read cached services", slog.Any("error", err))
	}
	if found && err == nil {
		return services, nil
	}
	return r.Discover(ctx)
}

// Lookup returns the cached entry for provider.
func (r *Registry) Lookup(ctx context.Context, provider string) (ProviderService, error) {
	services, err := r.Cached(ctx)
	if err != nil {
		return ProviderService{}, err
	}
	for _, s := range services {
		if s.Address == provider {
			return s, nil
		}
	}
	return ProviderService{}, fmt.Errorf("%s: %w", provider, ErrNotDiscovered)
}

// Select makes provider the current selection. It must be a discovered provider.
func (r *Registry) Select(ctx context.Context, provider string) (ProviderService, error) {
	svc, err := r.Lookup(ctx, provider)
	if err != nil {
		return ProviderService{}, err
	}
	r.mu.Lock()
	r.selected = svc.Address
	r.mu.Unlock()
	return svc, nil
}

// Selected returns the selected provider address, or "" when none is selected.
func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

func (r *Registry) cacheKey() string {
	return "services:" + r.wallet
}

// canonical checksums hex addresses so lookups are case-insensitive.
func canonical(provider string) string {
	if a, err := address.Normalize(provider); err == nil {
		return a
	}
	return provider
}

func displayName(l broker.ServiceListing, meta broker.ServiceMetadata) string {
	switch {
	case l.Name != "":
		return l.Name
	case l.Model != "":
		return l.Model
	case meta.Model != "":
		return meta.Model
	default:
		return "Unknown"
	}
}
