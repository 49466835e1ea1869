package oidckit

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/PaulFidika/authgate/core"
)

// errKeyNotFound marks a kid that no key set (remote or pinned) knows about.
var errKeyNotFound = fmt.Errorf("%w: no key for kid", core.ErrSigningKeyUnavailable)

// WithJWKSURL skips discovery and always uses the given key set URL.
func WithJWKSURL(u string) ResolverOpt {
	return func(o *resolverOptions) { o.jwksURL = u }
}

// WithMinRefreshInterval limits how often the same unknown kid may trigger a
// key set re-fetch. A kid not seen before always triggers one.
func WithMinRefreshInterval(d time.Duration) ResolverOpt {
	return func(o *resolverOptions) {
		if d >= 0 {
			o.minRefresh = d
		}
	}
}

// WithPinnedKeys registers locally provisioned public keys consulted when the
// remote key set is unreachable or lacks the requested kid.
func WithPinnedKeys(p *PinnedKeys) ResolverOpt {
	return func(o *resolverOptions) { o.pinned = p }
}

// PinnedKeys is a static key set built from provisioned RSA public keys.
type PinnedKeys struct {
	set jwk.Set
}

// NewPinnedKeys converts kid -> RSA public key into a key set. A nil or empty
// map yields nil.
func NewPinnedKeys(pubs map[string]*rsa.PublicKey) (*PinnedKeys, error) {
	if len(pubs) == 0 {
		return nil, nil
	}
	set := jwk.NewSet()
	for kid, pub := range pubs {
		key, err := jwk.FromRaw(pub)
		if err != nil {
			return nil, fmt.Errorf("pinned key %s: %w", kid, err)
		}
		if err := key.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return &PinnedKeys{set: set}, nil
}

func (p *PinnedKeys) lookup(kid string) (jwk.Key, bool) {
	if p == nil || p.set == nil {
		return nil, false
	}
	return p.set.LookupKeyID(kid)
}

// Len returns the number of pinned keys.
func (p *PinnedKeys) Len() int {
	if p == nil || p.set == nil {
		return 0
	}
	return p.set.Len()
}

// KeyResolver hands out one KeySet per issuer. The KeySet object is cached,
// not a snapshot of its keys, so rotation at the provider is picked up by the
// KeySet itself.
type KeyResolver struct {
	metadata   *MetadataResolver
	client     *http.Client
	timeout    time.Duration
	minRefresh time.Duration
	jwksURL    string
	pinned     *PinnedKeys
	log        logrus.FieldLogger

	mu   sync.Mutex
	sets map[string]*KeySet
}

// NewKeyResolver builds a resolver backed by metadata. metadata may be nil
// only when WithJWKSURL is supplied.
func NewKeyResolver(metadata *MetadataResolver, opts ...ResolverOpt) *KeyResolver {
	o := defaultResolverOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &KeyResolver{
		metadata:   metadata,
		client:     o.client,
		timeout:    o.timeout,
		minRefresh: o.minRefresh,
		jwksURL:    o.jwksURL,
		pinned:     o.pinned,
		log:        o.log,
		sets:       make(map[string]*KeySet),
	}
}

// KeySet returns the key set for issuer, resolving provider metadata first if
// needed. When the discovered jwks_uri changes (metadata TTL expiry), a new
// KeySet replaces the old one. Nothing is stored on failure.
func (r *KeyResolver) KeySet(ctx context.Context, issuer string) (*KeySet, error) {
	key, err := NormalizeIssuer(issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMetadataUnavailable, err)
	}
	jwksURL := r.jwksURL
	if jwksURL == "" {
		if r.metadata == nil {
			return nil, fmt.Errorf("%w: no metadata resolver configured", core.ErrMetadataUnavailable)
		}
		md, err := r.metadata.Resolve(ctx, key)
		if err != nil {
			return nil, err
		}
		jwksURL = md.JWKSURI
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ks, ok := r.sets[key]; ok && ks.url == jwksURL {
		return ks, nil
	}
	ks := &KeySet{
		url:        jwksURL,
		client:     r.client,
		timeout:    r.timeout,
		minRefresh: r.minRefresh,
		pinned:     r.pinned,
		log:        r.log.WithField("jwks_uri", jwksURL),
	}
	r.sets[key] = ks
	return ks, nil
}

// KeySet answers "which public key has id X" for one issuer. The remote set is
// fetched on first use and re-fetched when a kid is unknown. A kid that still
// misses after a re-fetch is remembered for the min refresh interval.
type KeySet struct {
	url        string
	client     *http.Client
	timeout    time.Duration
	minRefresh time.Duration
	pinned     *PinnedKeys
	log        logrus.FieldLogger

	mu     sync.RWMutex
	set    jwk.Set
	misses map[string]time.Time
	group  singleflight.Group
}

// URL returns the key set endpoint.
func (k *KeySet) URL() string { return k.url }

// Key returns the public key for kid. Fetch failures and unknown kids match
// core.ErrSigningKeyUnavailable.
func (k *KeySet) Key(ctx context.Context, kid string) (jwk.Key, error) {
	set, missedAt := k.snapshot(kid)
	if set != nil {
		if key, ok := set.LookupKeyID(kid); ok {
			return key, nil
		}
	}

	var fetchErr error
	if set == nil || missedAt.IsZero() || time.Since(missedAt) >= k.minRefresh {
		fresh, err := k.refresh(ctx)
		if err != nil {
			fetchErr = err
		} else if key, ok := fresh.LookupKeyID(kid); ok {
			return key, nil
		}
		k.recordMiss(kid)
	}

	if key, ok := k.pinned.lookup(kid); ok {
		if fetchErr != nil {
			k.log.WithError(fetchErr).WithField("kid", kid).Warn("oidc: key set unavailable, using pinned key")
		}
		return key, nil
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return nil, fmt.Errorf("%w %q", errKeyNotFound, kid)
}

func (k *KeySet) snapshot(kid string) (jwk.Set, time.Time) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.set, k.misses[kid]
}

// recordMiss remembers kid as unknown and drops misses older than the min
// refresh interval so the map stays bounded by the miss rate.
func (k *KeySet) recordMiss(kid string) {
	if k.minRefresh <= 0 {
		return
	}
	now := time.Now()
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.misses == nil {
		k.misses = make(map[string]time.Time)
	}
	for id, at := range k.misses {
		if now.Sub(at) >= k.minRefresh {
			delete(k.misses, id)
		}
	}
	k.misses[kid] = now
}

func (k *KeySet) refresh(ctx context.Context) (jwk.Set, error) {
	v, err, _ := k.group.Do("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
		defer cancel()
		set, err := jwk.Fetch(fetchCtx, k.url, jwk.WithHTTPClient(k.client))

		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s: %v", core.ErrSigningKeyUnavailable, k.url, err)
		}
		k.mu.Lock()
		defer k.mu.Unlock()
		k.set = set
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

// isKeyNotFound distinguishes an unknown kid from an unreachable key set.
func isKeyNotFound(err error) bool {
	return errors.Is(err, errKeyNotFound)
}
