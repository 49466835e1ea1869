// Command gateway terminates bearer tokens issued by an OpenID Connect
// provider and proxies authenticated calls to the upstream application.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	authgin "github.com/PaulFidika/authgate/adapters/gin"
	"github.com/PaulFidika/authgate/adapters/ginutil"
	"github.com/PaulFidika/authgate/audit"
	"github.com/PaulFidika/authgate/core"
	jwtkit "github.com/PaulFidika/authgate/jwt"
	"github.com/PaulFidika/authgate/metrics"
	migrations "github.com/PaulFidika/authgate/migrations/postgres"
	oidckit "github.com/PaulFidika/authgate/oidc"
	memorylimiter "github.com/PaulFidika/authgate/ratelimit/memory"
	redislimiter "github.com/PaulFidika/authgate/ratelimit/redis"
	memorystore "github.com/PaulFidika/authgate/storage/memory"
	redisstore "github.com/PaulFidika/authgate/storage/redis"
	"github.com/PaulFidika/authgate/upstream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("ignoring unreadable .env file")
	}
	cfg, err := core.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("gateway stopped")
	}
}

func newLogger(cfg core.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func run(ctx context.Context, cfg core.Config, log *logrus.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	outbound := &http.Client{Timeout: cfg.OIDCTimeout}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable at startup; shared features will fail open")
		}
	}

	// Provider metadata and signing keys.
	var cache oidckit.MetadataCache
	if rdb != nil && cfg.SharedMetadataCache {
		cache = redisstore.NewMetadataCache(rdb, "", cfg.MetadataTTL)
	} else {
		mem := memorystore.NewMetadataCache(cfg.MetadataTTL)
		defer mem.Close()
		cache = mem
	}
	resolverOpts := []oidckit.ResolverOpt{
		oidckit.WithHTTPClient(outbound),
		oidckit.WithTimeout(cfg.OIDCTimeout),
		oidckit.WithMetadataCache(cache),
		oidckit.WithLogger(log),
		oidckit.WithMinRefreshInterval(cfg.JWKSMinRefresh),
	}
	if cfg.JWKSURL != "" {
		resolverOpts = append(resolverOpts, oidckit.WithJWKSURL(cfg.JWKSURL))
	}
	pinnedDir := cfg.PinnedKeysPath
	if pinnedDir == "" {
		pinnedDir = jwtkit.DefaultPinnedKeysPath
	}
	pubs, err := jwtkit.LoadPinnedKeys(cfg.PinnedKeysJSON, pinnedDir, log)
	if err != nil {
		return err
	}
	if pinned, err := oidckit.NewPinnedKeys(pubs); err != nil {
		return err
	} else if pinned != nil {
		log.WithField("count", pinned.Len()).Info("pinned signing keys loaded")
		resolverOpts = append(resolverOpts, oidckit.WithPinnedKeys(pinned))
	}
	metadata := oidckit.NewMetadataResolver(resolverOpts...)
	keys := oidckit.NewKeyResolver(metadata, resolverOpts...)
	validator := oidckit.NewTokenValidator(oidckit.ValidatorConfig{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		ClockSkew: cfg.ClockSkew,
	}, keys)

	// Upstream.
	upOpts := []upstream.Option{
		upstream.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
		upstream.WithTimeout(cfg.UpstreamTimeout),
	}
	if cfg.ServiceIdentityEnabled() {
		upOpts = append(upOpts, upstream.WithTokenProvider(
			upstream.NewServiceIdentity(cfg.Issuer, cfg.UpstreamClientID, cfg.UpstreamClientSecret, metadata, outbound),
		))
		log.WithField("client_id", cfg.UpstreamClientID).Info("upstream calls carry a service identity")
	}
	up := upstream.New(cfg.UpstreamURL, upOpts...)

	// Rate limiting.
	var limiter ginutil.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		if rdb != nil {
			limiter = redislimiter.New(rdb, map[string]redislimiter.Limit{
				ginutil.RLProtectedRoute: {Limit: cfg.RateLimitPerMinute, Window: time.Minute},
			})
		} else {
			limiter = memorylimiter.New(map[string]memorylimiter.Limit{
				ginutil.RLProtectedRoute: {Limit: cfg.RateLimitPerMinute, Window: time.Minute},
			})
		}
	}

	// Audit trail.
	events := audit.Multi{audit.NewLogrusLogger(log)}
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("DATABASE_URL: %w", err)
		}
		defer pool.Close()
		if err := migrations.Run(ctx, pool, log); err != nil {
			return err
		}
		if err := audit.MigrateRiver(ctx, pool, log); err != nil {
			return err
		}
		store := audit.NewStore(pool, "")
		queue, err := audit.NewQueue(pool, store, 0, log)
		if err != nil {
			return err
		}
		if err := queue.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				log.WithError(err).Warn("audit queue stop")
			}
		}()
		events = append(events, queue.Logger())

		pruner := audit.NewPruner(store, cfg.AuditRetention, log)
		if err := pruner.Start(cfg.AuditPruneSchedule); err != nil {
			return fmt.Errorf("AUDIT_PRUNE_SCHEDULE: %w", err)
		}
		defer func() { <-pruner.Stop().Done() }()
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	router := authgin.NewRouter(authgin.Deps{
		Validator: validator,
		Upstream:  up,
		Realm:     cfg.Issuer,
		Limiter:   limiter,
		Events:    events,
		Metrics:   m,
		Logger:    log,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":     cfg.Addr,
			"issuer":   cfg.Issuer,
			"upstream": cfg.UpstreamURL,
			"audience": cfg.Audience,
		}).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
