// cmd/api/main.go
// Marketplace messaging API server

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/imadgeboyega/tradelink-inbox/internal/backend"
	"github.com/imadgeboyega/tradelink-inbox/internal/common/database"
	"github.com/imadgeboyega/tradelink-inbox/internal/config"
	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting TradeLink messaging API")

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found (%v), using environment variables", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Configuration validation failed: ", err)
	}

	ctx := context.Background()

	// Storage
	var repo backend.Repository
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDBFromURL(ctx, cfg.DatabaseURL, database.DefaultPoolConfig)
		if err != nil {
			log.Fatal("Failed to connect to PostgreSQL: ", err)
		}
		defer db.Close()

		if err := backend.Migrate(ctx, db); err != nil {
			log.Fatal("Failed to run migrations: ", err)
		}
		repo = backend.NewPostgresRepository(db)
		log.Println("Using PostgreSQL repository")
	} else {
		repo = backend.NewMemoryRepository()
		log.Println("DATABASE_URL not set, using in-memory repository")
	}

	// Creation lock
	var locker backend.Locker
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClientFromURL(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("Redis unavailable (%v), using in-process creation lock", err)
			locker = backend.NewMemoryLocker()
		} else {
			redisClient = client
			defer redisClient.Close()
			locker = backend.NewRedisLocker(redisClient)
			log.Println("Using Redis creation lock")
		}
	} else {
		locker = backend.NewMemoryLocker()
	}

	// Uploads
	var uploads backend.UploadService
	uploadDir := ""
	if cfg.UseS3 {
		sess, err := messaging.NewAWSSession(cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
		if err != nil {
			log.Fatal("Failed to create AWS session: ", err)
		}
		uploads = backend.NewS3UploadService(
			messaging.NewS3Uploader(sess, cfg.S3BucketName, cfg.CDNURL, cfg.MaxAttachmentSize))
		log.Printf("Using S3 bucket %s for attachments", cfg.S3BucketName)
	} else {
		uploads = backend.NewLocalUploadService(cfg.LocalUploadDir, cfg.BaseURL+"/uploads")
		uploadDir = cfg.LocalUploadDir
		log.Printf("Using local storage at %s for attachments", cfg.LocalUploadDir)
	}

	service := backend.NewService(repo, locker, uploads)
	handler := backend.NewHandler(service, cfg.MaxAttachmentSize)
	auth := backend.NewAuthMiddleware(cfg.JWTSecret, service)

	router := backend.NewRouter(handler, auth, backend.RouterConfig{
		UploadDir: uploadDir,
		Metrics:   true,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s (%s)", srv.Addr, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	log.Println("Server exited gracefully")
}
