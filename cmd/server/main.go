package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"desiai/internal/auth"
	"desiai/internal/chat"
	"desiai/internal/config"
	"desiai/internal/creative"
	"desiai/internal/crypto"
	"desiai/internal/httpapi"
	"desiai/internal/i18n"
	"desiai/internal/metrics"
	"desiai/internal/objectstore"
	"desiai/internal/providers/registry"
	"desiai/internal/queue"
	"desiai/internal/storage"
	"desiai/internal/subscription"
	"desiai/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Str("chat_provider", cfg.Providers.ChatKind).
		Bool("redis", cfg.Redis.Addr != "").
		Bool("object_storage", cfg.Storage.Bucket != "").
		Msg("starting desiai")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	vault, err := crypto.NewVault(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize vault")
	}

	localizer, err := i18n.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load locales")
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.ClientTimeout}
	chatProvider, err := registry.Build(ctx, chatProviderOptions(cfg, httpClient))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build chat provider")
	}
	if c, ok := chatProvider.(io.Closer); ok {
		defer c.Close()
	}
	imageGen, err := registry.BuildImage(registry.BuildOptions{
		BaseURL:     cfg.Providers.ImageBaseURL,
		APIKey:      firstNonEmpty(cfg.Providers.ImageAPIKey, cfg.Providers.ChatAPIKey),
		HTTPClient:  httpClient,
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build image provider")
	}

	m := metrics.Global()

	var (
		locker   queue.Locker
		limiter  httpapi.RateLimiter
		cleanupQ *queue.StreamQueue
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		locker = queue.NewSessionLock(rdb, cfg.Redis.LockTTL)
		limiter = queue.NewRateLimiter(rdb, cfg.Rate.PerHour)
		cleanupQ = queue.NewStreamQueue(rdb, cfg.Redis.CleanupStream, cfg.Redis.CleanupGroup, cfg.Worker.ConsumerName, cfg.Redis.Block)
	} else {
		log.Warn().Msg("REDIS_ADDR not set; using in-process session locks, no rate limit and no upload cleanup")
		locker = queue.NewLocalLocker()
	}

	var uploader *objectstore.Uploader
	if cfg.Storage.Bucket != "" {
		uploader, err = objectstore.NewUploader(objectstore.Config{
			Endpoint:      cfg.Storage.Endpoint,
			Region:        cfg.Storage.Region,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			Bucket:        cfg.Storage.Bucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			UsePathStyle:  cfg.Storage.UsePathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize object storage")
		}
	}

	subs := subscription.NewManager(subscription.Config{Store: store, Logger: log.Logger, Metrics: m})
	chatService := chat.NewService(chat.Config{
		Store:         store,
		Subscriptions: subs,
		Provider:      chatProvider,
		Images:        imageGen,
		Locker:        locker,
		Localizer:     localizer,
		Model:         cfg.Providers.ChatModel,
		ImageModel:    cfg.Providers.ImageModel,
		Logger:        log.Logger,
		Metrics:       m,
	})
	creativeService := creative.NewService(creative.Config{
		Store:         store,
		Subscriptions: subs,
		Provider:      chatProvider,
		Images:        imageGen,
		Localizer:     localizer,
		Model:         cfg.Providers.ChatModel,
		ImageModel:    cfg.Providers.ImageModel,
		Logger:        log.Logger,
		Metrics:       m,
	})
	gateway := auth.NewGateway(auth.Config{
		Store:     store,
		Verifier:  buildVerifier(cfg.Auth),
		OwnerUIDs: cfg.Auth.OwnerUIDs,
		Logger:    log.Logger,
	})

	apiCfg := httpapi.Config{
		Gateway:        gateway,
		Chat:           chatService,
		Creative:       creativeService,
		Subscriptions:  subs,
		Store:          store,
		Vault:          vault,
		Localizer:      localizer,
		Logger:         log.Logger,
		Metrics:        m,
		HealthPath:     cfg.Server.HealthPath,
		MetricsPath:    cfg.Server.MetricsPath,
		MetricsHandler: promhttp.Handler(),
		Limiter:        limiter,
	}
	// Typed nils must not leak into the interface fields.
	if uploader != nil {
		apiCfg.Objects = uploader
	}
	if cleanupQ != nil {
		apiCfg.Cleanup = cleanupQ
	}
	api := httpapi.NewServer(apiCfg)

	errCh := make(chan error, 2)
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cleanupQ != nil && uploader != nil {
		w := worker.New(worker.Config{
			Objects:       uploader,
			Queue:         cleanupQ,
			MaxJobRetries: cfg.Worker.MaxRetries,
			Logger:        log.Logger,
			Metrics:       m,
		})
		go func() {
			if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("cleanup worker failed: %w", err)
			}
		}()
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("cleanup worker started")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	api.Hub().Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func chatProviderOptions(cfg *config.Config, client *http.Client) registry.BuildOptions {
	opts := registry.BuildOptions{
		Kind:        cfg.Providers.ChatKind,
		BaseURL:     cfg.Providers.ChatBaseURL,
		APIKey:      cfg.Providers.ChatAPIKey,
		HTTPClient:  client,
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
	}
	switch cfg.Providers.ChatKind {
	case config.ProviderGemini:
		opts.APIKey = cfg.Providers.GeminiAPIKey
	case config.ProviderCustomHTTP:
		opts.BaseURL = cfg.Providers.CustomURL
		opts.BodyTemplate = cfg.Providers.CustomBody
		opts.ResponsePath = cfg.Providers.CustomPath
	}
	return opts
}

func buildVerifier(cfg config.AuthConfig) auth.Verifier {
	if cfg.FirebaseProjectID != "" {
		return auth.NewFirebaseVerifier(cfg.FirebaseProjectID)
	}
	log.Warn().Msg("FIREBASE_PROJECT_ID not set; accepting HS256 development tokens")
	return auth.NewHMACVerifier(cfg.DevSecret)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
