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

	"jotlog/api/internal/app"
	"jotlog/api/internal/authpw"
	"jotlog/api/internal/blob"
	"jotlog/api/internal/config"
	"jotlog/api/internal/email"
	"jotlog/api/internal/engine"
	"jotlog/api/internal/export"
	"jotlog/api/internal/notemirror"
	"jotlog/api/internal/schema"
	"jotlog/api/internal/search"
	"jotlog/api/internal/session"
	"jotlog/api/internal/store"
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

	if err := os.MkdirAll(cfg.MirrorsDir, 0o755); err != nil {
		log.Fatalf("failed to create mirrors dir: %v", err)
	}

	reg, err := schema.Default()
	if err != nil {
		log.Fatalf("schema registry failed: %v", err)
	}
	raw := store.NewPostgresClient(db, reg)
	eng := engine.New(raw, reg, engine.DefaultExemptions())
	authStore := store.NewAuthStore(eng)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	sessionStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessionStore.Close()

	var blobService *blob.Service
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		blobService, err = blob.New(ctx, blob.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
	} else {
		log.Printf("S3 endpoint not configured, attachment uploads disabled")
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailService.IsConfigured() {
		log.Printf("SMTP not configured, verification tokens returned in API responses")
	}

	mirrorService := notemirror.New(cfg.MirrorsDir)
	exportService := export.NewService(app.NoteSourceFromEngine(eng))
	passwordService := authpw.NewService(authStore, cfg.JWTSecret)

	service := app.New(cfg, eng, sessionStore, authStore, searchService,
		blobService, mirrorService, exportService, emailService, passwordService)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Jotlog API listening on %s", cfg.Addr)
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
