package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/haseebsahi/refinery-po-system/internal/config"
	"github.com/haseebsahi/refinery-po-system/internal/middleware"
	"github.com/haseebsahi/refinery-po-system/internal/shared/lock"
	"github.com/haseebsahi/refinery-po-system/internal/srm/archive"
	"github.com/haseebsahi/refinery-po-system/internal/srm/catalog"
	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"github.com/haseebsahi/refinery-po-system/internal/srm/handler"
	"github.com/haseebsahi/refinery-po-system/internal/srm/repository"
	"github.com/haseebsahi/refinery-po-system/internal/srm/service"
	"github.com/haseebsahi/refinery-po-system/internal/srm/sse"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `usage:
  procure                         start the HTTP server
  procure import-catalog <file>   upsert catalog items from an .xlsx file`

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := entity.AutoMigrate(db); err != nil {
		zapLogger.Fatal("AutoMigrate procurement tables failed", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = initRedis(cfg.Redis)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	repos := repository.NewRepositories(db)
	resolver, cache, err := initCatalog(cfg.Catalog, repos, rdb, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to init catalog", zap.Error(err))
	}

	importSvc := service.NewCatalogImportService(repos, zapLogger)
	if cache != nil {
		importSvc.SetCache(cache)
	}

	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "import-catalog":
			if len(args) != 2 {
				fmt.Fprintln(os.Stderr, usage)
				os.Exit(2)
			}
			if err := importCatalog(importSvc, args[1], zapLogger); err != nil {
				zapLogger.Fatal("Catalog import failed", zap.Error(err))
			}
			return
		case "serve":
		default:
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
	}

	zapLogger.Info("Starting procurement service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	var locker lock.Locker = lock.NewMemoryLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb,
			lock.WithTTL(cfg.Procurement.LockTTL),
			lock.WithWait(cfg.Procurement.LockWait),
		)
	}

	hub := sse.NewHub(zapLogger)
	procurementSvc := service.NewProcurementService(repos, resolver, locker, zapLogger)
	procurementSvc.SetHub(hub)
	procurementSvc.SetLockWait(cfg.Procurement.LockWait)
	procurementSvc.SetDefaultPaymentTerms(cfg.Procurement.DefaultPaymentTerms)
	if cfg.MinIO.Enabled() {
		archiver, err := archive.NewMinioArchiver(archive.MinioConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			zapLogger.Fatal("Failed to init minio", zap.Error(err))
		}
		procurementSvc.SetArchiver(archiver)
	}
	exportSvc := service.NewExportService(repos.PO)

	handlers := handler.NewHandlers(procurementSvc, exportSvc, importSvc, hub, zapLogger)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(zapLogger))
	router.Use(middleware.CORS())

	handler.RegisterRoutes(router, handlers, middleware.AuthConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	procurementSvc.WaitArchives()

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// initCatalog 目录来源（本地表或远程服务），有 Redis 时加读缓存
func initCatalog(cfg config.CatalogConfig, repos *repository.Repositories, rdb *redis.Client, zapLogger *zap.Logger) (catalog.Resolver, *catalog.CachedResolver, error) {
	var resolver catalog.Resolver
	switch cfg.Source {
	case config.CatalogSourceHTTP:
		resolver = catalog.NewHTTPResolver(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	case config.CatalogSourceDB:
		resolver = catalog.NewDBResolver(repos.Catalog)
	default:
		return nil, nil, fmt.Errorf("unknown catalog source %q", cfg.Source)
	}
	zapLogger.Info("Catalog lookup configured", zap.String("source", cfg.Source))

	if rdb == nil || cfg.CacheTTL <= 0 {
		return resolver, nil, nil
	}
	cached := catalog.NewCachedResolver(resolver, rdb, cfg.CacheTTL, zapLogger)
	return cached, cached, nil
}

func importCatalog(svc *service.CatalogImportService, path string, zapLogger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	result, err := svc.ImportXLSX(context.Background(), "cli", f)
	if err != nil {
		return err
	}
	for _, rowErr := range result.Errors {
		zapLogger.Warn("Catalog row skipped", zap.Int("row", rowErr.Row), zap.String("reason", rowErr.Message))
	}
	fmt.Printf("imported %d, failed %d\n", result.Imported, result.Failed)
	return nil
}
