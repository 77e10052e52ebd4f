package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"extrapl/api/internal/app"
	"extrapl/api/internal/authpw"
	"extrapl/api/internal/blob"
	"extrapl/api/internal/config"
	"extrapl/api/internal/docext"
	"extrapl/api/internal/email"
	"extrapl/api/internal/extract"
	"extrapl/api/internal/jobs"
	"extrapl/api/internal/search"
	"extrapl/api/internal/session"
	"extrapl/api/internal/store"
	"extrapl/api/internal/tool"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		// Backfill the Meilisearch indexes so search survives index wipes.
		go searchService.ReindexAllFromPG(ctx)
	}

	blobs, err := blob.New(ctx, blob.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		log.Fatalf("object storage connection failed: %v", err)
	}

	deps := app.Deps{
		Store:  dataStore,
		AuthPW: authpw.NewService(dataStore),
		Email: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		Blobs:    blobs,
		Searcher: searchService,
	}

	// Refresh tokens live in Redis when configured, Postgres otherwise.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Refresh = redisStore
	} else {
		log.Printf("using PostgreSQL for refresh token storage")
		deps.Refresh = dataStore
	}

	// The AI stack is optional: without an API key, extraction endpoints
	// report AI unavailable but the rest of the API works.
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		model, err := tool.NewGeminiModel(ctx, cfg.GeminiAPIKey)
		if err != nil {
			log.Fatalf("gemini client failed: %v", err)
		}
		deps.Model = model
		deps.Docs = docext.NewExtractor(model, cfg.GeminiFlash, cfg.ExtractTimeout)
		runner := tool.NewRunner(model, cfg.GeminiModel)
		deps.Engine = extract.NewEngine(dataStore, runner, cfg.ExtractTimeout)
	} else {
		log.Printf("WARNING: GEMINI_API_KEY not set, extraction disabled")
	}

	jobManager := jobs.NewManager(4)
	defer jobManager.Shutdown()
	deps.Jobs = jobManager

	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Extrapl API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
