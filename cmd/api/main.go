package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"inmo-market/internal/config"
	"inmo-market/internal/db"
	apihttp "inmo-market/internal/http"
	"inmo-market/internal/presence"
	"inmo-market/internal/repository"
	"inmo-market/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	identityRepo := repository.NewPgIdentityRepository(pool)

	var loginLimiter service.LoginRateLimiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			loginLimiter = service.NewRedisLoginRateLimiter(redisClient, time.Minute, 10)
		}
		cancel()
	}

	tokenSvc := service.NewTokenService(
		cfg.JWTAccessSecret,
		cfg.JWTRefreshSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLHours)*time.Hour,
	)
	sessionSvc := service.NewSessionService(logger, identityRepo, tokenSvc)
	identitySvc := service.NewIdentityService(logger, identityRepo, loginLimiter)

	registry := presence.NewRegistry()
	gateway := presence.NewGateway(logger, tokenSvc, registry, cfg.WSAllowedOrigins)

	authHandler := apihttp.NewAuthHandler(logger, identitySvc, sessionSvc)
	presenceHandler := apihttp.NewPresenceHandler(logger, gateway)
	router := apihttp.NewRouter(logger, tokenSvc, sessionSvc, authHandler, presenceHandler, gateway)

	// Barrido periodico de sesiones expiradas.
	sweepEvery := time.Duration(cfg.SessionSweepMinutes) * time.Minute
	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := sessionSvc.SweepExpired(ctx); err != nil {
					logger.Warn("session sweep failed", zap.Error(err))
				}
			}
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
