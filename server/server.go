package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/mikeydub/comment-references/config"
	"github.com/mikeydub/comment-references/env"
	"github.com/mikeydub/comment-references/middleware"
	"github.com/mikeydub/comment-references/service/erc20"
	"github.com/mikeydub/comment-references/service/eth"
	"github.com/mikeydub/comment-references/service/farcaster"
	"github.com/mikeydub/comment-references/service/loader"
	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/media"
	"github.com/mikeydub/comment-references/service/metric"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/persist/postgres"
	"github.com/mikeydub/comment-references/service/redis"
	"github.com/mikeydub/comment-references/service/references"
	"github.com/mikeydub/comment-references/service/resolver"
	"github.com/mikeydub/comment-references/service/rpc/ipfs"
	sentryutil "github.com/mikeydub/comment-references/service/sentry"
	"github.com/mikeydub/comment-references/service/tracing"
)

const appName = "comment-references"

const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendPostgres = "postgres"
)

// Clients holds every long lived client the service needs
type Clients struct {
	Repos      *postgres.Repositories
	ETH        *ethclient.Client
	Chains     map[persist.ChainID]*ethclient.Client
	Service    *references.Service
	HTTPClient *http.Client
	caches     []*redis.Cache
}

// ClientInit connects to every backing service configured in the environment and builds the resolution
// service on top of them
func ClientInit(ctx context.Context) (*Clients, error) {
	c := &Clients{
		HTTPClient: &http.Client{Transport: tracing.NewTracingTransport(http.DefaultTransport, false)},
	}

	chains, err := config.ChainsFromEnv()
	if err != nil {
		return nil, err
	}

	c.ETH, err = ethclient.DialContext(ctx, env.GetString("ETH_RPC_URL"))
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum rpc: %w", err)
	}

	c.Chains, err = chains.Dial(ctx)
	if err != nil {
		return nil, err
	}

	callers := make(map[persist.ChainID]bind.ContractCaller, len(c.Chains))
	for id, client := range c.Chains {
		callers[id] = client
	}

	pool, err := postgres.NewPgxClient(ctx, postgres.WithAppName(appName), postgres.WithMaxConns(int32(env.GetInt("POSTGRES_MAX_CONNS"))))
	if err != nil {
		return nil, err
	}
	c.Repos = postgres.NewRepositories(pool)

	var store persist.ResolutionCacheRepository = c.Repos.ResolutionCacheRepository
	opts := []references.ServiceOption{
		references.WithObserver(metric.DefaultResolutionMetrics()),
		references.WithPassTimeout(env.GetDuration("RESOLUTION_PASS_TIMEOUT")),
	}

	if env.GetString("RESULT_STORE") == backendRedis {
		cache := c.newCache(redis.ResolutionCache)
		store = redis.NewResolutionStore(cache)
		opts = append(opts, references.WithLocker(redis.NewResolutionLocker(cache)))
	}

	var loaderCache, tokenListCache *redis.Cache
	if env.GetString("LOADER_CACHE_BACKEND") == backendRedis {
		loaderCache = c.newCache(redis.LoaderCache)
		tokenListCache = c.newCache(redis.TokenListCache)
	}

	resolvers := resolver.New(ctx, resolver.Deps{
		ENS:        eth.NewENS(c.ETH, env.GetString("ENS_SUBGRAPH_URL"), c.HTTPClient),
		Farcaster:  farcaster.NewNeynarAPI(c.HTTPClient, env.GetString("NEYNAR_API_KEY")),
		TokenList:  erc20.NewTokenList(env.GetString("TOKEN_LIST_URL"), c.HTTPClient, tokenListCache),
		OnChain:    erc20.NewOnChain(callers),
		Fetcher:    media.NewFetcher(c.HTTPClient, env.GetDuration("URL_RESOLVER_TIMEOUT")),
		IPFS:       ipfs.NewGatewayFromEnv(),
		Comments:   c.Repos.CommentRepository,
		Chains:     chains,
		Cache:      loaderCache,
		CacheTTL:   env.GetDuration("LOADER_CACHE_TTL"),
		StaleAfter: env.GetDuration("LOADER_STALE_AFTER"),
		Observer:   loader.Observers(metric.DefaultLoaderMetrics(), metric.NewLogLoaderObserver()),
	})

	c.Service = references.NewService(store, resolvers, opts...)

	return c, nil
}

func (c *Clients) newCache(config redis.CacheConfig) *redis.Cache {
	cache := redis.NewCache(config)
	c.caches = append(c.caches, cache)
	return cache
}

// Close releases every client
func (c *Clients) Close() {
	if c.Repos != nil {
		c.Repos.Close()
	}
	if c.ETH != nil {
		c.ETH.Close()
	}
	for _, client := range c.Chains {
		client.Close()
	}
	for _, cache := range c.caches {
		if err := cache.Close(); err != nil {
			logger.For(nil).WithError(err).Warn("failed to close redis client")
		}
	}
}

// Init configures the process from the environment and returns the router and the clients behind it
func Init(ctx context.Context) (*gin.Engine, *Clients, error) {
	SetDefaults()
	logger.InitWithGCPDefaults()
	InitSentry()

	clients, err := ClientInit(ctx)
	if err != nil {
		return nil, nil, err
	}

	return CoreInit(clients.Service, prometheus.DefaultGatherer), clients, nil
}

// CoreInit builds the router. This is abstracted so tests can serve a service built from fakes.
func CoreInit(svc *references.Service, gatherer prometheus.Gatherer) *gin.Engine {
	logger.For(nil).Info("initializing server...")

	if env.GetString("ENV") != "production" {
		gin.SetMode(gin.DebugMode)
		logrus.SetLevel(logrus.DebugLevel)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.Sentry(true), middleware.Tracing(), middleware.ErrLogger())

	router.GET("/health", healthcheck())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	limiter := middleware.NewKeyRateLimiter(env.GetInt("RATE_LIMIT_BURST"), env.GetDuration("RATE_LIMIT_EVERY"))

	v1 := router.Group("/v1")
	v1.POST("/references/resolve", middleware.RateLimited(limiter), resolveReferences(svc))

	return router
}

func SetDefaults() {
	viper.SetDefault("ENV", "local")
	viper.SetDefault("PORT", 4000)
	viper.SetDefault("POSTGRES_HOST", "0.0.0.0")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "")
	viper.SetDefault("POSTGRES_DB", "postgres")
	viper.SetDefault("POSTGRES_MAX_CONNS", 20)
	viper.SetDefault("RESOLUTION_PASS_TIMEOUT", "1m")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("REDIS_PASS", "")
	viper.SetDefault("SENTRY_DSN", "")
	viper.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.2)
	viper.SetDefault("VERSION", "")
	viper.SetDefault("ETH_RPC_URL", "https://eth-mainnet.g.alchemy.com/v2/")
	viper.SetDefault("ENS_SUBGRAPH_URL", eth.DefaultSubgraphURL)
	viper.SetDefault("NEYNAR_API_KEY", "")
	viper.SetDefault("TOKEN_LIST_URL", erc20.DefaultTokenListURL)
	viper.SetDefault("IPFS_API_URL", "https://ipfs.infura.io:5001")
	viper.SetDefault("IPFS_GATEWAY_URL", ipfs.PublicGateway)
	viper.SetDefault("IPFS_PROJECT_ID", "")
	viper.SetDefault("IPFS_PROJECT_SECRET", "")
	viper.SetDefault("CHAIN_CONFIG", "")
	viper.SetDefault("URL_RESOLVER_TIMEOUT", media.DefaultTimeout.String())
	viper.SetDefault("LOADER_CACHE_BACKEND", backendMemory)
	viper.SetDefault("LOADER_CACHE_TTL", loader.DefaultCacheTTL.String())
	viper.SetDefault("LOADER_STALE_AFTER", "1h")
	viper.SetDefault("RESULT_STORE", backendPostgres)
	viper.SetDefault("RATE_LIMIT_BURST", 60)
	viper.SetDefault("RATE_LIMIT_EVERY", "1s")

	viper.AutomaticEnv()

	env.RegisterValidation("LOADER_CACHE_BACKEND", "oneof=memory redis")
	env.RegisterValidation("RESULT_STORE", "oneof=postgres redis")
	env.RegisterValidation("CHAIN_CONFIG", "required")
	env.RegisterValidation("NEYNAR_API_KEY", "required")
	env.RegisterValidation("ETH_RPC_URL", "required,url")

	if env.GetString("ENV") != "local" {
		env.RegisterValidation("SENTRY_DSN", "required")
		env.RegisterValidation("VERSION", "required")
	}
}

func InitSentry() {
	if env.GetString("ENV") == "local" {
		logger.For(nil).Info("skipping sentry init")
		return
	}

	logger.For(nil).Info("initializing sentry...")

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              env.GetString("SENTRY_DSN"),
		Environment:      env.GetString("ENV"),
		TracesSampleRate: env.GetFloat64("SENTRY_TRACES_SAMPLE_RATE"),
		Release:          env.GetString("VERSION"),
		AttachStacktrace: true,
		BeforeSend:       sentryutil.UpdateErrorFingerprints,
	})

	if err != nil {
		logger.For(nil).Fatalf("failed to start sentry: %s", err)
	}
}

// ListenAndServe serves router on PORT until ctx is cancelled
func ListenAndServe(ctx context.Context, router http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", env.GetInt("PORT")),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()

	logger.For(ctx).Infof("listening on %s", srv.Addr)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
