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

	"github.com/fogjoe/online-collaborative-project-sub000/internal/app"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/authpw"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/blob"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/config"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/email"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/realtime"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/search"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/session"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/store"
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

	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Fatal("REDIS_URL is required for refresh token storage")
	}
	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	go searchService.ReindexAllFromPG(ctx)

	var blobs *blob.Store
	if strings.TrimSpace(cfg.BlobEndpoint) != "" {
		blobs, err = blob.New(ctx, cfg.BlobEndpoint, cfg.BlobAccessKey, cfg.BlobSecretKey, cfg.BlobBucket, cfg.BlobUseSSL)
		if err != nil {
			log.Fatalf("blob store connection failed: %v", err)
		}
	} else {
		log.Print("Attachment storage not configured, uploads disabled")
	}

	var mail *email.Service
	if cfg.SMTPHost != "" {
		mail = email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
	}

	registry := realtime.NewRegistry()
	bridge := realtime.NewBridge(registry)

	passwords := authpw.NewService(dataStore)
	service := app.New(cfg, dataStore, sessions, passwords, bridge, searchService, blobs, mail)

	gateway := realtime.NewGateway([]byte(cfg.JWTSecret), service, service, registry, bridge)

	reminderCtx, stopReminders := context.WithCancel(ctx)
	defer stopReminders()
	go service.StartReminderLoop(reminderCtx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Boardsync API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopReminders()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
