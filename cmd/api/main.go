package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"opsdesk/api/internal/app"
	"opsdesk/api/internal/config"
	"opsdesk/api/internal/email"
	"opsdesk/api/internal/guard"
	"opsdesk/api/internal/logging"
	"opsdesk/api/internal/notify"
	"opsdesk/api/internal/search"
	"opsdesk/api/internal/store"
	"opsdesk/api/internal/taskstore"
	"opsdesk/api/internal/upload"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Init(cfg.LogFile)
	log := logging.Logger
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	relational := store.NewPostgresStore(db)

	mongoClient, err := taskstore.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("mongo connection failed: %v", err)
	}
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()
	docs := taskstore.NewMongoStore(mongoClient, cfg.MongoDBName)

	commentGuard, err := guard.NewCommentGuard(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer commentGuard.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, docs)

	var uploader *upload.Uploader
	if strings.TrimSpace(cfg.CDNEndpoint) != "" {
		uploader, err = upload.NewUploader(ctx, upload.Config{
			Endpoint:  cfg.CDNEndpoint,
			AccessKey: cfg.CDNAccessKey,
			SecretKey: cfg.CDNSecretKey,
			Bucket:    cfg.CDNBucket,
			BaseURL:   cfg.CDNBaseURL,
			UseSSL:    cfg.CDNUseSSL,
		})
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
	} else {
		log.Warn("CDN not configured, attachment uploads disabled")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Warn("SMTP not configured, notification emails disabled")
	}
	notifier := notify.NewService(relational, docs, mailer, cfg.DefaultNotifyRecipient)

	var uploadStore app.AttachmentStore
	if uploader != nil {
		uploadStore = uploader
	}
	service := app.NewService(relational, docs, commentGuard, notifier, uploadStore, searchService, cfg.MaxAttachmentBytes)

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
		log.Infof("OpsDesk API listening on %s", cfg.Addr)
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
		log.Errorf("shutdown error: %v", err)
	}
}
