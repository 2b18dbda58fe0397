package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"halalchat/api/internal/app"
	"halalchat/api/internal/config"
	"halalchat/api/internal/email"
	"halalchat/api/internal/export"
	"halalchat/api/internal/generation"
	"halalchat/api/internal/health"
	"halalchat/api/internal/logging"
	"halalchat/api/internal/metrics"
	"halalchat/api/internal/ratelimit"
	"halalchat/api/internal/revisions"
	"halalchat/api/internal/search"
	"halalchat/api/internal/session"
	"halalchat/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.RevisionsDir).Msg("failed to create revisions dir")
	}

	dataStore := store.NewPostgresStore(db)
	limits := map[string]int64{
		ratelimit.ScopeGenerate: int64(cfg.GenerationHourlyLimit),
		ratelimit.ScopeEarn:     int64(cfg.EarnHourlyLimit),
	}

	opts := app.Options{
		Metrics: metrics.Global(),
		Generator: generation.NewAdapter(generation.Config{
			APIKey:      cfg.InferenceAPIKey,
			BaseURL:     cfg.InferenceBaseURL,
			Model:       cfg.InferenceModel,
			Timeout:     cfg.InferenceTimeout,
			MaxTokens:   cfg.InferenceMaxTokens,
			Temperature: 0.7,
		}),
		Revisions: revisions.New(cfg.RevisionsDir),
		Health:    health.NewChecker(db),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}
	if !cfg.InferenceConfigured() {
		log.Warn().Msg("INFERENCE_API_KEY not set; responses come from the fallback generator")
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(redisOpts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer client.Close()
		log.Info().Msg("using Redis for sessions and rate limits")
		opts.Sessions = session.NewRedisStoreWithClient(client, cfg.SessionTTL)
		opts.Limiter = ratelimit.NewRedisLimiter(client, limits)
	} else {
		log.Info().Msg("using in-memory sessions and rate limits")
		opts.Sessions = session.NewMemoryStore(cfg.SessionTTL)
		opts.Limiter = ratelimit.NewMemoryLimiter(limits)
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	opts.Search = searchService
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	var archive export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchive, err := export.NewMinioArchive(ctx, export.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			URLTTL:    cfg.ExportURLTTL,
		})
		if err != nil {
			log.Warn().Err(err).Msg("export archive unavailable")
		} else {
			archive = minioArchive
		}
	}
	opts.Exporter = export.NewService(archive, 0)

	service := app.New(cfg, dataStore, opts)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Halal AI Chat API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	service.Wait()
	searchService.Wait()
}
