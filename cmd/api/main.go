package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"corkboard/api/internal/app"
	"corkboard/api/internal/attachments"
	"corkboard/api/internal/config"
	"corkboard/api/internal/docstore"
	"corkboard/api/internal/docstore/fsstore"
	"corkboard/api/internal/docstore/pgstore"
	"corkboard/api/internal/docstore/redisstore"
	"corkboard/api/internal/export"
	"corkboard/api/internal/identity"
	"corkboard/api/internal/likes"
	"corkboard/api/internal/logging"
	"corkboard/api/internal/search"
)

func main() {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if envLoaded {
		logger.Info("loaded .env file")
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("document store connection failed", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer store.Close()

	deps := app.Deps{Exporter: export.NewService(logger)}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		markers, err := likes.NewRedisStore(cfg.RedisURL, cfg.LikeMarkerTTL)
		if err != nil {
			logger.Warn("like markers disabled, likes are counted without dedupe", zap.Error(err))
		} else {
			defer markers.Close()
			deps.Likes = markers
		}
	}

	if strings.TrimSpace(cfg.MinioURL) != "" {
		uploader, err := attachments.NewMinioUploader(ctx, cfg, logger)
		if err != nil {
			logger.Warn("attachment uploads disabled", zap.Error(err))
		} else {
			deps.Uploader = uploader
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.StoreNamespace, logger)
	}
	deps.Search = search.NewService(meiliClient, logger)
	defer deps.Search.Close()

	service := app.New(cfg, store, logger, deps)
	auth := identity.NewAuthenticator(identity.NewTokenVerifier(cfg.JWTSecret), identity.NewWhitelist(store, service.Paths()))

	gin.SetMode(gin.ReleaseMode)
	httpServer := app.NewHTTPServer(service, auth, cfg, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("corkboard api listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (docstore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreBackend)) {
	case "", "redis":
		return redisstore.Open(ctx, cfg.RedisURL, logger)
	case "postgres":
		return pgstore.Open(ctx, cfg.DatabaseURL, cfg.MigrationsDir, logger)
	case "firestore":
		return fsstore.Open(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentials, logger)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
