package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"agrocycle/internal/chain"
	"agrocycle/internal/config"
	"agrocycle/internal/consensus"
	cronrunner "agrocycle/internal/cron"
	"agrocycle/internal/cycle"
	"agrocycle/internal/db"
	"agrocycle/internal/guard"
	"agrocycle/internal/handler"
	"agrocycle/internal/logger"
	"agrocycle/internal/paas"
	"agrocycle/internal/repository"
	gormrepository "agrocycle/internal/repository/gorm"
	memrepository "agrocycle/internal/repository/memory"
	"agrocycle/internal/risk"
	"agrocycle/internal/resolution"
	"agrocycle/internal/service"
	"agrocycle/internal/settlement"
	agrosignal "agrocycle/internal/signal"

	_ "agrocycle/docs"
)

func main() {
	cfgPath := os.Getenv("AGRO_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("AGRO_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var store repository.Repository
	health := &handler.HealthHandler{}
	dbConn, err := db.Open(cfg.DB, logger)
	switch {
	case errors.Is(err, db.ErrNoDSN):
		logger.Warn("db.dsn not set; using in-memory store, state is lost on restart")
		store = memrepository.New()
	case err != nil:
		logger.Fatal("db open failed", zap.Error(err))
	default:
		defer db.Close(dbConn)
		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(context.Background(), dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
		store = gormrepository.New(dbConn.Gorm)
		health.DB = dbConn.Gorm
	}

	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	params, err := cycle.ParamsFromConfig(cfg.Cycle)
	if err != nil {
		logger.Fatal("invalid cycle config", zap.Error(err))
	}
	window, err := cycle.ParseWindow(cfg.Cycle.WagerWindow)
	if err != nil {
		logger.Fatal("invalid cycle.wager_window", zap.Error(err))
	}
	scheduler := cycle.NewScheduler(params, logger)

	var transitionGuard guard.Guard = guard.NewLocal()
	if cfg.Redis.Enabled {
		locker := guard.NewRedisLocker(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer locker.Close()
		transitionGuard = guard.NewDistributed(locker, cfg.Redis.LockTTL, logger)
		health.Redis = locker
	}

	registry, err := agrosignal.NewRegistry(cfg.SignalSources.Enabled)
	if err != nil {
		logger.Fatal("invalid signal_sources.enabled", zap.Error(err))
	}
	collector := agrosignal.NewCollector(registry, cfg.SignalSources.Timeout, store, logger)
	oracle := &agrosignal.OracleClient{
		HTTP:     &http.Client{Timeout: cfg.Oracle.Timeout},
		Logger:   logger,
		Endpoint: cfg.Oracle.Endpoint,
		Symbols:  cfg.Oracle.Symbols,
	}
	var weather service.WeatherSource
	if cfg.Weather.Enabled && len(cfg.Weather.Sources) > 0 {
		weather = &agrosignal.WeatherScorer{
			HTTP:    &http.Client{Timeout: cfg.Weather.Timeout},
			Logger:  logger,
			Sources: cfg.Weather.Sources,
		}
	}

	paasClient := initPaaSClient(logger)

	pipeline := &service.Pipeline{
		Repo:          store,
		Scheduler:     scheduler,
		Guard:         transitionGuard,
		Oracle:        oracle,
		Weather:       weather,
		Collector:     collector,
		Engine:        consensus.NewEngine(cfg.Consensus, logger),
		Composer:      resolution.NewComposer(resolution.FormulaFromConfig(cfg.Resolution), store, logger),
		Settler:       &settlement.Settler{Store: store, Policy: settlement.PolicyFromConfig(cfg.Settlement), SettleDegraded: cfg.Settlement.SettleDegraded, Logger: logger},
		Locations:     cfg.Weather.Locations,
		Weights:       cfg.Consensus.Weights,
		DefaultWeight: cfg.Consensus.DefaultWeight,
		Flags:         settingsSvc,
		Logger:        logger,
	}
	if paasClient != nil {
		pipeline.Notifier = paasClient
	}
	scheduler.OnTransition(pipeline.HandleTransition)

	wagers := &service.WagerService{
		Repo:   store,
		Cycles: scheduler,
		Window: window,
		Risk:   &risk.Manager{Config: cfg.Risk, Repo: store, Logger: logger},
		Logger: logger,
	}
	farms := &service.FarmService{Repo: store, Cycles: scheduler, Logger: logger}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	engine.Use(paas.RequireBearerMiddleware(paas.AuthOptionsFromEnv()))
	engine.Use(paas.InjectClientMiddleware(paasClient))
	engine.Use(paas.PaaSWriteAuditMiddleware(paasClient, logger))

	health.Scheduler = scheduler
	health.Register(engine)
	paas.RegisterDocs(engine)
	(&handler.CycleHandler{Repo: store, Scheduler: scheduler, Pipeline: pipeline, Wagers: wagers, Window: window}).Register(engine)
	(&handler.PositionHandler{Wagers: wagers, Farms: farms}).Register(engine)
	(&handler.SourceHandler{Repo: store, Collector: collector}).Register(engine)
	(&handler.SettingsHandler{Settings: settingsSvc}).Register(engine)
	(&handler.EventsHandler{Scheduler: scheduler, Logger: logger, OriginPatterns: []string{"*"}}).Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseCtx := ctx
	if paasClient != nil {
		baseCtx = paas.WithClient(ctx, paasClient)
	}

	blocks, err := chain.New(cfg.Chain)
	if err != nil {
		logger.Fatal("invalid chain config", zap.Error(err))
	}
	if ws, ok := blocks.(*chain.WSSource); ok {
		go func() {
			if err := ws.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("chain stream stopped", zap.Error(err))
			}
		}()
	}

	cronRunner := cronrunner.New(logger, baseCtx)
	_, err = cronRunner.Add(cronrunner.Every(cfg.Cycle.PollInterval), func(ctx context.Context) {
		if err := scheduler.Tick(ctx, blocks); err != nil {
			logger.Warn("chain poll failed", zap.Error(err))
			paas.LogBestEffort(ctx, paas.ActionChainPollFailed, "warn", map[string]any{"error": err.Error()})
		}
	})
	if err != nil {
		logger.Fatal("cron register chain poll failed", zap.Error(err))
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	// First tick before serving so /readyz and wager checks see a phase.
	if err := scheduler.Tick(baseCtx, blocks); err != nil {
		logger.Warn("initial chain poll failed (continuing)", zap.Error(err))
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func initPaaSClient(logger *zap.Logger) *paas.Client {
	p := paas.NewFromEnv()
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Login(ctx); err != nil {
		logger.Warn("paas login failed (logs/notify disabled)", zap.Error(err))
		return nil
	}
	logger.Info("paas login ok")
	return p
}
