package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farmgate/client"
	"farmgate/internal/api"
	"farmgate/internal/config"
	"farmgate/internal/dependency"
	"farmgate/internal/flags"
	"farmgate/internal/loader"
	"farmgate/internal/metrics"
	"farmgate/internal/model"
	"farmgate/internal/navigation"
	"farmgate/internal/repository"
	"farmgate/internal/service"
	v1 "farmgate/pkg/api/v1"
	"farmgate/pkg/features"
	"farmgate/pkg/logger"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	etcdCli, err := initEtcd(cfg.Etcd)
	if err != nil {
		return err
	}
	defer etcdCli.Close()

	db, err := initDB(cfg.MySQL)
	if err != nil {
		return err
	}

	// remote configuration document
	hub := service.NewHub(metrics.NewPrometheusObserver(), cfg.Stream.HeartbeatInterval)
	remoteSvc := service.NewRemoteConfigService(
		repository.NewConfigRepository(etcdCli),
		repository.NewAuditRepository(db),
		hub,
	)

	// flag store
	kv, err := newKV(cfg.Storage.Driver, rdb, etcdCli, db)
	if err != nil {
		return err
	}
	storeOpts := []flags.Option{
		flags.WithStorageKey(cfg.Storage.Key),
		flags.WithPersistTimeout(cfg.Storage.PersistTimeout),
		flags.WithRemoteTimeout(cfg.Remote.Timeout),
	}
	var upstream *client.Client
	switch cfg.Remote.Mode {
	case "local":
		storeOpts = append(storeOpts, flags.WithRemote(remoteSvc))
	case "http":
		upstream = client.New(cfg.Remote.BaseURL, client.WithTimeout(cfg.Remote.Timeout), client.WithToken(cfg.Remote.Token))
		storeOpts = append(storeOpts, flags.WithRemote(upstream))
	}
	store := flags.NewStore(kv, storeOpts...)

	// module loader
	bundles := cfg.Loader.Bundles
	if len(bundles) == 0 {
		bundles = loader.DefaultBundles()
	}
	moduleLoader := loader.New(
		loader.NewHTTPSource(cfg.Loader.BundleBaseURL, &http.Client{}),
		nil,
		loader.WithTimeout(cfg.Loader.Timeout),
		loader.WithObserver(metrics.NewLoaderObserver()),
	)
	moduleLoader.SetRegistry(loader.FromPaths(moduleLoader, bundles))

	shell := service.NewShell(
		store,
		dependency.NewResolver(features.Dependencies(), store),
		moduleLoader,
		navigation.DefaultTable(),
		hub,
	)
	defer shell.Stop()

	secret := cfg.Auth.Secret
	if secret == "" {
		if !cfg.IsDev() {
			return errors.New("auth.secret is required outside dev")
		}
		logger.Warn("auth.secret is empty, using an insecure dev secret")
		secret = "farmgate-dev-secret"
	}
	authSvc := service.NewAuthService(rdb, service.AuthConfig{
		SignedKey:       []byte(secret),
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		OTPCode:         cfg.Auth.OTPCode,
		AdminPhones:     cfg.Auth.AdminPhones,
	})

	// background routines
	go func() {
		logger.Info("starting hub")
		hub.Run(ctx)
	}()

	if cfg.Remote.Mode == "local" {
		remoteSvc.OnUpdate(func() { shell.Refresh(ctx) })
	}
	go func() {
		logger.Info("starting remote config watcher")
		remoteSvc.Run(ctx)
	}()

	if upstream != nil && cfg.Remote.Token != "" {
		go func() {
			logger.Info("following upstream change stream", zap.String("upstream", cfg.Remote.BaseURL))
			upstream.WatchChanges(ctx, func(c v1.Change) {
				if c.Source == service.SourceRemoteDocument || c.Source == string(flags.SourceRemote) {
					shell.Refresh(ctx)
				}
			}, func() { shell.Refresh(ctx) })
		}()
	}

	if len(cfg.Loader.Preload) > 0 {
		warm := moduleLoader.PreloadModules(ctx, cfg.Loader.Preload)
		go func() {
			<-warm
			logger.Info("bundle preload settled", zap.Int("paths", len(cfg.Loader.Preload)))
		}()
	}

	go func() {
		start := time.Now()
		shell.Start(ctx)
		logger.Info("shell started",
			zap.Bool("remote_loaded", store.RemoteLoaded()),
			zap.Duration("took", time.Since(start)))
	}()

	r := api.RegisterRoutes(api.Handlers{
		Config:     api.NewConfigHandler(remoteSvc),
		Dev:        api.NewDevHandler(shell),
		Navigation: api.NewNavigationHandler(shell),
		Auth:       api.NewAuthHandler(authSvc),
		Stream:     api.NewStreamHandler(hub),
	}, authSvc, rdb, cfg.RateLimit.RequestsPerSecond, cfg.IsDev())

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Server.Environment),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("remote", cfg.Remote.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// stops the hub first so open streams end and Shutdown can finish
	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited properly")
	return nil
}

func newKV(driver string, rdb *redis.Client, etcdCli *clientv3.Client, db *gorm.DB) (flags.KV, error) {
	switch driver {
	case "redis":
		return repository.NewRedisKV(rdb), nil
	case "etcd":
		return repository.NewEtcdKV(etcdCli), nil
	case "mysql":
		return repository.NewGormKV(db), nil
	case "memory":
		return repository.NewMemoryKV(), nil
	}
	return nil, fmt.Errorf("%w: %s", config.ErrUnknownDriver, driver)
}

// -- Infrastructure Initializers --

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return cli, nil
}

func initDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	// TODO: replace AutoMigrate with versioned migrations before the audit table grows indexes
	if err := db.AutoMigrate(&model.FlagAudit{}, &model.KVEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}
