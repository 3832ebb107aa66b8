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

	"github.com/TIANLI0/CardKit/catalog"
	"github.com/TIANLI0/CardKit/config"
	"github.com/TIANLI0/CardKit/handler"
	"github.com/TIANLI0/CardKit/index"
	"github.com/TIANLI0/CardKit/metrics"
	"github.com/TIANLI0/CardKit/middleware"
	"github.com/TIANLI0/CardKit/pipeline"
	"github.com/TIANLI0/CardKit/service"
	"github.com/TIANLI0/CardKit/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// app 各命令共享的运行时组件
type app struct {
	cfg          *config.Config
	store        *index.Store
	loader       index.Loader
	redis        *service.RedisService
	catalog      *catalog.Client
	orchestrator *pipeline.Orchestrator
}

// loadConfig 未指定路径时读取 config.yaml，失败则使用默认配置
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	return config.Load(path)
}

// newApp 初始化日志、缓存、参考库与扫描流水线
func newApp(ctx context.Context, cfg *config.Config, useCache bool) (*app, error) {
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	a := &app{cfg: cfg, store: index.NewStore()}

	var opts []pipeline.Option
	var cardCache catalog.Cache

	// 初始化Redis
	if useCache && cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			_ = redisService.Close()
		} else {
			utils.Logger.Info("redis connected successfully")
			a.redis = redisService
			cardCache = redisService
			opts = append(opts, pipeline.WithCache(redisService))
		}
	}

	// 目录客户端，全进程共用一个令牌桶
	var lookup catalog.Lookup
	if cfg.Catalog.Enabled {
		client, err := catalog.New(cfg.Catalog.BaseURL,
			catalog.WithLimiter(catalog.NewLimiter(cfg.Catalog.RateLimit, cfg.Catalog.Burst)),
			catalog.WithUserAgent(cfg.Catalog.UserAgent),
			catalog.WithMaxRetries(cfg.Catalog.MaxRetries),
			catalog.WithHTTPClient(&http.Client{Timeout: cfg.Catalog.Timeout}),
		)
		if err != nil {
			return nil, fmt.Errorf("catalog client: %w", err)
		}
		lookup = client
		a.catalog = client
	}
	opts = append(opts, pipeline.WithEnricher(catalog.NewEnricher(lookup, cardCache, cfg.Catalog.Timeout)))

	if cfg.OCR.Enabled {
		opts = append(opts, pipeline.WithTitleReader(service.NewTitleReader(&cfg.OCR)))
	}

	detector := service.NewDetectorService(&cfg.Pipeline)
	a.orchestrator = pipeline.New(cfg, detector, a.store, opts...)

	loader, err := index.NewLoader(&cfg.Index)
	if err != nil {
		return nil, err
	}
	a.loader = loader
	// 指纹位数不一致的参考库永远不会被发布
	a.store.RequireHashBits(a.orchestrator.Engine().Bits())
	if err := a.reloadIndex(ctx); err != nil {
		if errors.Is(err, index.ErrLengthMismatch) {
			a.close()
			return nil, err
		}
		// 参考库缺失时继续启动，扫描返回 database_unavailable
		utils.Logger.Warn("card database not loaded", zap.Error(err))
	}
	return a, nil
}

func (a *app) reloadIndex(ctx context.Context) error {
	idx, err := a.store.Load(ctx, a.loader)
	if err != nil {
		return err
	}
	metrics.IndexCards.Set(float64(idx.Len()))
	return nil
}

// catalogSearcher 目录未启用时返回nil接口
func (a *app) catalogSearcher() handler.CatalogSearcher {
	if a.catalog == nil {
		return nil
	}
	return a.catalog
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	utils.Sync()
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	utils.Logger.Info("starting CardKit server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 初始化Handler
	scanHandler := handler.NewScanHandler(cfg, a.orchestrator)
	indexHandler := handler.NewIndexHandler(a.store, a.catalogSearcher(), cfg.Index.StatsSample, Version)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 健康检查和版本信息
	r.GET("/health", indexHandler.Health)
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/scan", scanHandler.Scan)
		api.POST("/identify", scanHandler.Identify)
		api.GET("/cards/search", indexHandler.Search)
		api.GET("/cards/:id", indexHandler.Card)
		api.GET("/database/stats", indexHandler.Stats)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGHUP 重新加载参考库，SIGINT/SIGTERM 优雅退出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case err, ok := <-errCh:
			if ok && err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := a.reloadIndex(ctx); err != nil {
					utils.Logger.Error("card database reload failed, keeping previous snapshot", zap.Error(err))
				}
				continue
			}
			utils.Logger.Info("shutting down", zap.String("signal", sig.String()))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}
