package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/linhptit/strava-webhook-vercel/internal/api"
	"github.com/linhptit/strava-webhook-vercel/internal/config"
	"github.com/linhptit/strava-webhook-vercel/internal/credentials"
	"github.com/linhptit/strava-webhook-vercel/internal/dispatch"
	"github.com/linhptit/strava-webhook-vercel/internal/enrich"
	"github.com/linhptit/strava-webhook-vercel/internal/events"
	"github.com/linhptit/strava-webhook-vercel/internal/oauthstate"
	"github.com/linhptit/strava-webhook-vercel/internal/observability"
	"github.com/linhptit/strava-webhook-vercel/internal/quotes"
	"github.com/linhptit/strava-webhook-vercel/internal/strava"
	httptransport "github.com/linhptit/strava-webhook-vercel/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := observability.NewLogger(cfg.Development())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver, linker, closeStore, err := newCredentialStore(ctx, cfg)
	if err != nil {
		logger.Fatal("credential store init failed", zap.String("store", cfg.CredentialStore), zap.Error(err))
	}
	defer closeStore()

	corpus, err := quotes.Load(cfg.QuotesFile)
	if err != nil {
		logger.Fatal("quote corpus init failed", zap.Error(err))
	}

	client := strava.NewClient(strava.Config{
		OAuthURL:     cfg.OAuthURL,
		APIURL:       cfg.APIURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
	})

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.PublishEnabled() {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		publisher = events.NewKafkaPublisher(producer, cfg.KafkaTopic)
	}

	dispatcher := dispatch.NewDispatcher(resolver, client, enrich.NewMutator(client, corpus, cfg.Marker),
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithPublisher(publisher),
	)

	handlerCfg := api.Config{
		VerifyToken: cfg.VerifyToken,
		RedirectURI: cfg.RedirectURI,
		Dispatcher:  dispatcher,
		Logger:      logger.Named("api"),
	}
	if linker != nil {
		handlerCfg.OAuth = client
		handlerCfg.Accounts = linker
		handlerCfg.State = oauthstate.NewSigner(cfg.StateSecret, oauthstate.DefaultTTL)
	}

	handler := api.NewHandler(handlerCfg)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress, cfg.HTTPTimeout),
		httptransport.Chain(mux, httptransport.RequestLogger(logger.Named("http"))),
	)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("webhook relay listening",
			zap.String("address", cfg.HTTPAddress),
			zap.String("credential_store", cfg.CredentialStore),
			zap.Bool("publish_enabled", cfg.PublishEnabled()),
			zap.Bool("linking_enabled", linker != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	dispatcher.Wait()
}

// newCredentialStore returns the resolver for webhook events and, for durable backends,
// the linker used by the OAuth callback.
func newCredentialStore(ctx context.Context, cfg config.Config) (credentials.Resolver, api.AccountLinker, func(), error) {
	switch cfg.CredentialStore {
	case config.StoreStatic:
		return credentials.NewStaticResolver(cfg.AthleteID, cfg.RefreshToken), nil, func() {}, nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, nil, err
		}
		store := credentials.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		resolver := credentials.NewStoreResolver(store)
		return resolver, resolver, pool.Close, nil
	default:
		client, err := credentials.NewRedisClient(cfg.RedisURL, cfg.RedisToken)
		if err != nil {
			return nil, nil, nil, err
		}
		store := credentials.NewRedisStore(client)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		resolver := credentials.NewStoreResolver(store)
		return resolver, resolver, func() { _ = client.Close() }, nil
	}
}
