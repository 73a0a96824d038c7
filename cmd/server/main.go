package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	nethttputil "net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"botgate/internal/audit"
	"botgate/internal/behavior"
	"botgate/internal/blocklist"
	"botgate/internal/counter"
	"botgate/internal/decision"
	"botgate/internal/honeypot"
	"botgate/internal/platform/config"
	"botgate/internal/platform/geoip"
	"botgate/internal/platform/httpserver"
	"botgate/internal/platform/logger"
	"botgate/internal/platform/metrics"
	"botgate/internal/platform/redis"
	"botgate/internal/pow"
	"botgate/internal/risk"
	"botgate/internal/signals/rdns"
	"botgate/internal/signals/reputation"
	"botgate/internal/token"
	httptransport "botgate/internal/transport/http"
	mwmetadata "botgate/pkg/platform/middleware/metadata"
)

const (
	cleanupInterval = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("botgate stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("botgate stopped")
}

// run wires the gate and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, cfg *config.Server, log *slog.Logger) error {
	m := metrics.New()
	g, gctx := errgroup.WithContext(ctx)

	// Dynamic configuration: hot-reloaded file first, then environment.
	provider := config.Layered{config.NewEnvProvider()}
	var file *config.FileProvider
	if cfg.ConfigFile != "" {
		var err error
		file, err = config.NewFileProvider(cfg.ConfigFile)
		if err != nil {
			return err
		}
		provider = config.Layered{file, config.NewEnvProvider()}
	}

	// Counter store: Redis behind a breaker with an in-process fallback.
	var remote counter.Store
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		if err := redisClient.Health(ctx); err != nil {
			log.Warn("redis unavailable at startup, serving local counters until it recovers",
				"event", "counter_fallback", "error", err)
		}
		remote = counter.NewRedisStore(redisClient.Client)
	}
	store := counter.NewFallbackStore(remote,
		counter.WithLogger(log),
		counter.WithMetrics(m),
		counter.WithRemoteTimeout(cfg.Redis.OpTimeout),
	)
	background(g, gctx, func(ctx context.Context) error {
		return store.Local().StartCleanup(ctx, cleanupInterval)
	})

	secret, err := token.LoadSecret(provider, log)
	if err != nil {
		return err
	}
	tokens, err := token.New(secret,
		token.WithLogger(log),
		token.WithMetrics(m),
		token.WithNonceTTL(cfg.Challenge.NonceTTL),
		token.WithSessionTTL(cfg.Challenge.SessionTTL),
	)
	if err != nil {
		return err
	}
	gate, err := pow.NewGate(store, pow.WithLogger(log))
	if err != nil {
		return err
	}

	analyzer, err := behavior.New(store, behavior.WithLogger(log))
	if err != nil {
		return err
	}
	background(g, gctx, func(ctx context.Context) error {
		return analyzer.History().StartCleanup(ctx, cleanupInterval)
	})

	trapOpts := []honeypot.Option{honeypot.WithLogger(log), honeypot.WithMetrics(m)}
	handlerOpts := []httptransport.Option{
		httptransport.WithLogger(log),
		httptransport.WithASNHeader(cfg.ASNHeader),
		httptransport.WithCORSOrigins(cfg.CORSOrigins),
		httptransport.WithCookieDomain(cfg.Challenge.CookieDomain),
	}
	if cfg.ASNDatabase != "" {
		asn, err := geoip.OpenASN(cfg.ASNDatabase)
		if err != nil {
			return err
		}
		defer asn.Close()
		trapOpts = append(trapOpts, honeypot.WithResolver(asn))
		handlerOpts = append(handlerOpts, httptransport.WithASNResolver(asn))
	}
	trap, err := honeypot.New(store, trapOpts...)
	if err != nil {
		return err
	}
	handlerOpts = append(handlerOpts, httptransport.WithTrap(trap))

	rep := reputation.New(cfg.Reputation, store, reputation.WithLogger(log), reputation.WithMetrics(m))
	crawlers := rdns.New(store, rdns.WithLogger(log), rdns.WithMetrics(m))

	tables, err := risk.NewTables(provider)
	if err != nil {
		return err
	}
	scorerOpts := []risk.Option{
		risk.WithBehavior(analyzer),
		risk.WithHoneypot(trap),
		risk.WithLogger(log),
	}
	if rep != nil {
		scorerOpts = append(scorerOpts, risk.WithReputation(rep))
	}
	scorer, err := risk.New(tables, scorerOpts...)
	if err != nil {
		return err
	}
	rules := decision.NewRuleSet(provider, decision.WithRulesLogger(log))

	if file != nil {
		file.OnReload(func() {
			if err := tables.Reload(); err != nil {
				log.Warn("keeping previous risk tables", "event", "config_reload_failed", "error", err)
			}
			rules.Reload()
		})
		watcher, err := config.NewWatcher(file, log)
		if err != nil {
			return err
		}
		background(g, gctx, watcher.Run)
	}

	if cfg.Postgres.DSN != "" {
		source, closeDB, err := newBlocklistSource(cfg.Postgres, log)
		if err != nil {
			return err
		}
		defer closeDB()
		source.OnChange(rules.SetBlocklist)
		background(g, gctx, func(ctx context.Context) error {
			return source.Run(ctx, cfg.Postgres.RefreshInterval)
		})
	}

	sinks, closeSinks := newAuditSinks(ctx, cfg.Kafka, log, shutdownTimeout)
	defer closeSinks()
	publisher, err := audit.NewPublisher(sinks, audit.WithLogger(log), audit.WithMetrics(m))
	if err != nil {
		return err
	}
	background(g, gctx, publisher.Run)

	engine, err := decision.New(rules, scorer, tokens, gate, store,
		decision.WithCrawlerChecker(crawlers),
		decision.WithAuditPublisher(publisher),
		decision.WithLogger(log),
		decision.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	proxies, err := mwmetadata.ParsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	if len(proxies) == 0 && cfg.TrustedIPHeader != "" {
		log.Warn("forwarding headers are honored from any peer; set BOTGATE_TRUSTED_PROXIES unless the gate is only reachable through its proxy",
			"event", "trusted_proxies_unset", "header", cfg.TrustedIPHeader)
	}

	upstream, err := newUpstream(cfg.UpstreamURL, log)
	if err != nil {
		return err
	}
	handler, err := httptransport.New(engine, upstream, handlerOpts...)
	if err != nil {
		return err
	}
	router := httptransport.NewRouter(handler, httptransport.RouterConfig{
		Resolver: mwmetadata.Resolver{
			TrustedHeader:   cfg.TrustedIPHeader,
			TrustedProvider: cfg.TrustedProvider,
			TrustedProxies:  proxies,
		},
		Metrics:  promhttp.Handler(),
		Degraded: store.Degraded,
	})
	srv := httpserver.New(cfg.Addr, router)

	g.Go(func() error {
		log.Info("botgate listening", "addr", cfg.Addr, "upstream", cfg.UpstreamURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newBlocklistSource builds the Postgres blocklist source without dialing.
// Schema creation runs before the first successful refresh, so an outage at
// startup is retried on the refresh ticker while the gate serves without the
// Postgres entries.
func newBlocklistSource(cfg config.PostgresConfig, log *slog.Logger) (*blocklist.Source, func(), error) {
	db, err := blocklist.Connect(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	pg := blocklist.NewPostgres(db)
	source, err := blocklist.NewSource(pg, blocklist.WithLogger(log), blocklist.WithPrepare(pg.EnsureSchema))
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return source, func() { _ = db.Close() }, nil
}

// newAuditSinks always includes the log sink. The Kafka sink is added when
// brokers are configured; a broker that is unreachable at startup is logged
// and the sink kept, since the client reconnects and failed writes are
// dropped by the publisher.
func newAuditSinks(ctx context.Context, cfg config.KafkaConfig, log *slog.Logger, timeout time.Duration) ([]audit.Sink, func()) {
	sinks := []audit.Sink{audit.NewLogSink(log)}
	if len(cfg.Brokers) == 0 {
		return sinks, func() {}
	}
	kafka, err := audit.NewKafkaSink(cfg.Brokers, cfg.Topic)
	if err != nil {
		log.Warn("kafka sink disabled", "event", "audit_sink_disabled", "error", err)
		return sinks, func() {}
	}
	topicCtx, cancel := context.WithTimeout(ctx, timeout)
	err = kafka.EnsureTopic(topicCtx, 1, -1)
	cancel()
	if err != nil {
		log.Warn("kafka topic not ensured at startup", "event", "audit_topic_unavailable", "topic", cfg.Topic, "error", err)
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := kafka.Close(closeCtx); err != nil {
			log.Warn("kafka sink close failed", "error", err)
		}
	}
	return append(sinks, kafka), closeFn
}

// background runs fn until ctx is cancelled; cancellation is not a failure.
func background(g *errgroup.Group, ctx context.Context, fn func(context.Context) error) {
	g.Go(func() error {
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}

// newUpstream proxies admitted traffic to rawURL. Without an upstream the
// gate answers 204 and callers act on the X-BG-Verdict header.
func newUpstream(rawURL string, log *slog.Logger) (http.Handler, error) {
	if rawURL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}), nil
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	proxy := nethttputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.WarnContext(r.Context(), "upstream request failed", "event", "upstream_error", "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy, nil
}
