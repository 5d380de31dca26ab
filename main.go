package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/cors"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/diff-finder/internal/artifacts"
	"github.com/example/diff-finder/internal/auth"
	"github.com/example/diff-finder/internal/config"
	"github.com/example/diff-finder/internal/grpcclient"
	"github.com/example/diff-finder/internal/grpcserver"
	"github.com/example/diff-finder/internal/handlers"
	"github.com/example/diff-finder/internal/imagediff"
	"github.com/example/diff-finder/internal/logging"
	"github.com/example/diff-finder/internal/metrics"
	"github.com/example/diff-finder/internal/repository"
	"github.com/example/diff-finder/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		if err := runHealthcheck(cfg.GRPCHealthAddr, logger); err != nil {
			logger.Error("healthcheck failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := artifacts.NewDirStore(cfg.ResultsDir)
	if err != nil {
		logger.Fatal("results directory unavailable", zap.Error(err))
	}

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	repo := repository.NewComparisonRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	var (
		cache      usecase.Cache
		redisCache *usecase.RedisCache
	)
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisCache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
		redisCancel()
		cache = redisCache
	} else {
		logger.Info("REDIS_ADDR not set, result cache disabled")
	}

	comparisonMetrics := metrics.NewComparisonMetrics()
	uc := usecase.NewComparisonUseCase(repo, cache, store, logger,
		usecase.WithDiffOptions(imagediff.Options{
			MinRegionArea:     cfg.MinRegionArea,
			BinarizeThreshold: cfg.BinarizeThreshold,
			WindowSize:        cfg.SSIMWindow,
		}),
		usecase.WithRecorder(comparisonMetrics),
		usecase.WithCacheTTL(cfg.ResultCacheTTL),
	)

	if !cfg.AuthEnabled() {
		logger.Info("JWT_SECRET not set, comparison API is unauthenticated")
	}
	router := newRouter(uc, handlers.Options{
		Store:          store,
		StaticDir:      cfg.StaticDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Auth:           auth.Middleware(auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience), logger),
		Metrics:        comparisonMetrics.Handler(),
		Logger:         logger,
	})

	if cfg.GRPCHealthAddr != "" {
		probes := []grpcserver.Probe{{Name: "database", Check: repo.Ping}}
		if redisCache != nil {
			probes = append(probes, grpcserver.Probe{Name: "redis", Check: redisCache.Ping})
		}
		healthServer := grpcserver.NewHealthServer(logger, 10*time.Second, probes...)

		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			logger.Fatal("failed to listen for gRPC health", zap.Error(err), zap.String("addr", cfg.GRPCHealthAddr))
		}
		healthCtx, stopHealth := context.WithCancel(context.Background())
		defer stopHealth()
		go healthServer.Run(healthCtx)
		go func() {
			if err := healthServer.Serve(lis); err != nil {
				logger.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
		defer healthServer.Stop()
	}

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: cors.AllowAll().Handler(router),
	}

	logger.Info("diff finder listening", zap.String("addr", cfg.HTTPAddr), zap.String("results_dir", store.Dir()))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
}

func newRouter(uc *usecase.ComparisonUseCase, opts handlers.Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(opts.Logger))
	router.MaxMultipartMemory = opts.MaxUploadBytes
	if router.MaxMultipartMemory <= 0 {
		router.MaxMultipartMemory = handlers.MaxUploadSize
	}
	handlers.RegisterRoutes(router, uc, opts)
	return router
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func runHealthcheck(addr string, logger *zap.Logger) error {
	if addr == "" {
		return errors.New("GRPC_HEALTH_ADDR is empty")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := grpcclient.DialHealth(ctx, addr, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.Check(ctx, grpcserver.ServiceName)
	if err != nil {
		return err
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service status %s", status)
	}
	return nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
