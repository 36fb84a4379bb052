package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noraiz-anwar/code-response-assessment/internal/common/cache"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/db"
	commonmw "github.com/noraiz-anwar/code-response-assessment/internal/common/http/middleware"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/mq"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/storage"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/controller"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/executor"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/harness"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/repository"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/sandbox"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/service"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/taskqueue"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/testdata"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/grader.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, err := buildDatabase(appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = database.Close()
	}()
	dbProvider := db.NewStaticProvider(database)

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	registry, err := executor.BuildRegistry(appCfg.Grader.Executors)
	if err != nil {
		logger.Error(context.Background(), "build executor registry failed", zap.Error(err))
		return
	}

	engine, err := sandbox.NewEngine(appCfg.Grader.Sandbox)
	if err != nil {
		logger.Error(context.Background(), "init sandbox engine failed", zap.Error(err))
		return
	}
	defer func() {
		_ = engine.Close()
	}()

	provider, err := buildProvider(appCfg, redisCache)
	if err != nil {
		logger.Error(context.Background(), "init test data provider failed", zap.Error(err))
		return
	}

	jobRepo := repository.NewJobRepositoryWithProvider(dbProvider, redisCache, appCfg.Grader.JobCacheTTL, appCfg.Grader.JobEmptyTTL)
	results := repository.NewResultStore(redisCache, appCfg.Grader.ResultTTL)
	states := taskqueue.NewStates(redisCache, appCfg.Grader.TaskStateTTL)
	queue := taskqueue.New(appCfg.Grader.Queue, mqClient, states)

	grading := service.NewGradingService(registry, service.EnginePreparer{Engine: engine}, provider, harness.New(appCfg.Grader.Harness))
	submissions := service.NewSubmissionServiceWithGrace(jobRepo, results, queue, appCfg.Grader.PollGrace)
	worker := service.NewWorker(grading, jobRepo, results, queue)

	if err := worker.Register(context.Background()); err != nil {
		logger.Error(context.Background(), "subscribe grading topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	healthCtrl := controller.NewHealthController(appCfg.Grader.PingTimeout).
		Add("redis", redisCache).
		Add("database", database).
		Add("kafka", mqClient).
		Add("docker", engine)
	graderCtrl := controller.NewGraderController(grading, submissions, registry)

	httpServer := buildHTTPServer(appCfg, graderCtrl, healthCtrl)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "grader http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

func buildDatabase(cfg DatabaseConfig) (db.Database, error) {
	if cfg.Driver == "postgres" {
		return db.NewPostgreSQLWithConfig(&db.PostgreSQLConfig{
			DSN:                cfg.DSN,
			MaxOpenConnections: cfg.MaxOpenConnections,
			MaxIdleConnections: cfg.MaxIdleConnections,
			ConnMaxLifetime:    cfg.ConnMaxLifetime,
			ConnMaxIdleTime:    cfg.ConnMaxIdleTime,
		})
	}
	return db.NewMySQLWithConfig(&cfg.MySQLConfig)
}

// buildProvider picks the test data source: a plain local directory when
// configured, otherwise the object-storage pack cache.
func buildProvider(cfg *AppConfig, redisCache cache.Cache) (testdata.Provider, error) {
	if cfg.Grader.LocalDataDir != "" {
		return testdata.NewLocal(cfg.Grader.LocalDataDir), nil
	}
	objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	return testdata.NewPack(testdata.NewPackCache(cfg.Grader.Packs, objStorage, redisCache)), nil
}

func buildHTTPServer(cfg *AppConfig, graderCtrl *controller.GraderController, healthCtrl *controller.HealthController) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	// Health stays outside the identity middleware so probes never need a
	// token.
	router.GET("/api/v1/health", healthCtrl.Check)
	router.GET("/api/v1/languages", graderCtrl.Languages)

	api := router.Group("/api/v1", commonmw.IdentityMiddleware(cfg.Auth))
	api.POST("/grade", graderCtrl.Grade)
	api.POST("/submissions", graderCtrl.Submit)
	api.GET("/submissions/:context/result", graderCtrl.Result)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
