package oidckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/PaulFidika/authgate/core"
)

const (
	wellKnownPath    = "/.well-known/openid-configuration"
	maxDiscoveryBody = 1 << 20
)

// ProviderMetadata is the subset of an OpenID Provider discovery document the
// gateway relies on.
type ProviderMetadata struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                    string   `json:"token_endpoint,omitempty"`
	JWKSURI                          string   `json:"jwks_uri"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// MetadataCache stores discovery documents keyed by normalized issuer.
type MetadataCache interface {
	Get(ctx context.Context, issuer string) (*ProviderMetadata, bool, error)
	Put(ctx context.Context, issuer string, md *ProviderMetadata) error
	Del(ctx context.Context, issuer string) error
}

// MetadataResolver fetches and memoizes discovery documents per issuer.
type MetadataResolver struct {
	client  *http.Client
	timeout time.Duration
	cache   MetadataCache
	log     logrus.FieldLogger
	group   singleflight.Group
}

// ResolverOpt configures a MetadataResolver or KeyResolver.
type ResolverOpt func(*resolverOptions)

type resolverOptions struct {
	client     *http.Client
	timeout    time.Duration
	cache      MetadataCache
	log        logrus.FieldLogger
	jwksURL    string
	minRefresh time.Duration
	pinned     *PinnedKeys
}

func defaultResolverOptions() resolverOptions {
	return resolverOptions{
		client:     http.DefaultClient,
		timeout:    core.DefaultHTTPTimeout,
		log:        logrus.StandardLogger(),
		minRefresh: 10 * time.Second,
	}
}

// WithHTTPClient sets the client used for discovery and key set fetches.
func WithHTTPClient(c *http.Client) ResolverOpt {
	return func(o *resolverOptions) {
		if c != nil {
			o.client = c
		}
	}
}

// WithTimeout bounds each discovery or key set fetch.
func WithTimeout(d time.Duration) ResolverOpt {
	return func(o *resolverOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMetadataCache replaces the default in-process, never-expiring cache.
func WithMetadataCache(c MetadataCache) ResolverOpt {
	return func(o *resolverOptions) { o.cache = c }
}

// WithLogger sets the logger used for cache backend warnings.
func WithLogger(l logrus.FieldLogger) ResolverOpt {
	return func(o *resolverOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// NewMetadataResolver builds a resolver. Without WithMetadataCache, documents
// are kept in memory for the lifetime of the resolver.
func NewMetadataResolver(opts ...ResolverOpt) *MetadataResolver {
	o := defaultResolverOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cache := o.cache
	if cache == nil {
		cache = &mapCache{m: make(map[string]*ProviderMetadata)}
	}
	return &MetadataResolver{client: o.client, timeout: o.timeout, cache: cache, log: o.log}
}

// NormalizeIssuer trims whitespace and trailing slashes and checks that the
// issuer is an absolute http(s) URL.
func NormalizeIssuer(issuer string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(issuer), "/")
	if trimmed == "" {
		return "", errors.New("oidc: issuer is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("oidc: invalid issuer: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("oidc: issuer must be an absolute http(s) URL")
	}
	return trimmed, nil
}

// Resolve returns the discovery document for issuer. The first call per issuer
// pays the network cost; concurrent cold callers share one fetch. Failures are
// never cached and always match core.ErrMetadataUnavailable.
func (r *MetadataResolver) Resolve(ctx context.Context, issuer string) (*ProviderMetadata, error) {
	key, err := NormalizeIssuer(issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMetadataUnavailable, err)
	}
	if md, ok := r.cached(ctx, key); ok {
		return md, nil
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		if md, ok := r.cached(ctx, key); ok {
			return md, nil
		}
		md, err := r.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Put(ctx, key, md); err != nil {
			r.log.WithError(err).WithField("issuer", key).Warn("oidc: metadata cache write failed")
		}
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProviderMetadata), nil
}

// Invalidate drops the cached document for issuer.
func (r *MetadataResolver) Invalidate(ctx context.Context, issuer string) error {
	key, err := NormalizeIssuer(issuer)
	if err != nil {
		return err
	}
	return r.cache.Del(ctx, key)
}

func (r *MetadataResolver) cached(ctx context.Context, key string) (*ProviderMetadata, bool) {
	md, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.WithError(err).WithField("issuer", key).Warn("oidc: metadata cache read failed")
		return nil, false
	}
	return md, ok && md != nil
}

func (r *MetadataResolver) fetch(ctx context.Context, issuer string) (*ProviderMetadata, error) {
	// Shared by all singleflight waiters; detached from the first caller's cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+wellKnownPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMetadataUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMetadataUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: discovery failed: %s", core.ErrMetadataUnavailable, resp.Status)
	}
	var md ProviderMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscoveryBody)).Decode(&md); err != nil {
		return nil, fmt.Errorf("%w: decode discovery document: %v", core.ErrMetadataUnavailable, err)
	}
	discovered := strings.TrimRight(md.Issuer, "/")
	if discovered != "" && discovered != issuer {
		return nil, fmt.Errorf("%w: issuer mismatch: %s", core.ErrMetadataUnavailable, md.Issuer)
	}
	if md.JWKSURI == "" {
		return nil, fmt.Errorf("%w: discovery missing jwks_uri", core.ErrMetadataUnavailable)
	}
	return &md, nil
}

type mapCache struct {
	mu sync.RWMutex
	m  map[string]*ProviderMetadata
}

func (c *mapCache) Get(_ context.Context, issuer string) (*ProviderMetadata, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	md, ok := c.m[issuer]
	return md, ok, nil
}

func (c *mapCache) Put(_ context.Context, issuer string, md *ProviderMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[issuer] = md
	return nil
}

func (c *mapCache) Del(_ context.Context, issuer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, issuer)
	return nil
}
