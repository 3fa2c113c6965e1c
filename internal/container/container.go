package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pump-trader-go/config"
	"pump-trader-go/gateway"
	"pump-trader-go/infrastructure/alert"
	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/infrastructure/monitor"
	"pump-trader-go/internal/clock"
	iconfig "pump-trader-go/internal/config"
	"pump-trader-go/internal/dispatcher"
	"pump-trader-go/internal/engine"
	"pump-trader-go/internal/order_manager"
	"pump-trader-go/internal/recorder"
	"pump-trader-go/internal/scanner"
	"pump-trader-go/internal/telegram"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger   *logger.Logger
	monitor  *monitor.Monitor
	alertMgr *alert.Manager

	// 交易所网关
	gateway gateway.MarketGateway

	// 核心服务
	store    *iconfig.Store
	engine   *engine.TradingEngine
	recStore *recorder.Store
	reloader *iconfig.HotReloader
	bot      *telegram.Bot

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 加载配置并创建 Container；dryRun 为 true 时强制使用模拟网关，此时可以不配密钥。
func New(configPath string, dryRun bool) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if dryRun && (err == nil || config.IsCredentialError(err)) {
		cfg.DryRun = true
		err = config.Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}, nil
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	if err := c.buildControlSurface(); err != nil {
		return fmt.Errorf("build telegram failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("venue", c.gateway.Name()),
		zap.Bool("dry_run", c.cfg.DryRun))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.Config{Namespace: c.cfg.Metrics.Namespace, Subsystem: "trader"})

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger)}
	c.alertMgr = alert.NewManager(channels, c.cfg.Alert.Throttle)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() error {
	gc := c.cfg.Gateway
	venue, err := gateway.LookupVenue(gc.Venue)
	if err != nil {
		return err
	}

	rest := gateway.NewRESTClient(venue, gc.BaseURL, gc.APIKey, gc.APISecret,
		gateway.NewTokenBucketLimiter(gc.RateLimit, gc.Burst))
	if gc.RecvWindowMs > 0 {
		rest.RecvWindowMs = int(gc.RecvWindowMs)
	}
	if gc.Timeout > 0 {
		rest.HTTPClient = &http.Client{Timeout: gc.Timeout}
	}

	var gw gateway.MarketGateway = rest
	if c.cfg.DryRun {
		quote := c.cfg.Tunables.Scanner.QuoteCurrency
		gw = gateway.NewPaperGateway(rest, quote, gc.PaperBalance, venue.MarketBuyUsesCost)
		c.logger.Warn("dry run: orders are simulated",
			zap.String("quote", quote),
			zap.Float64("balance", gc.PaperBalance))
	}
	c.gateway = gateway.NewInstrumented(gw, c.monitor)

	c.logger.Info("gateway built", zap.String("venue", venue.Name), zap.String("base_url", rest.BaseURL))
	return nil
}

func (c *Container) buildCoreServices() error {
	tunables := c.cfg.Tunables
	if c.cfg.AllowListFile != "" {
		pairs, err := config.LoadAllowList(c.cfg.AllowListFile, tunables.Scanner.QuoteCurrency)
		if err != nil {
			return err
		}
		tunables.Scanner.AllowList = pairs
	}
	store, err := iconfig.NewStore(tunables)
	if err != nil {
		return fmt.Errorf("invalid tunables: %w", err)
	}
	c.store = store

	clk := clock.Real
	queue := scanner.NewQueue()
	suspension := scanner.NewSuspension(clk)
	scan := scanner.New(c.gateway, store, queue, suspension,
		scanner.WithClock(clk),
		scanner.WithLogger(c.logger.Named("scanner")),
		scanner.WithMetrics(c.monitor))
	exec := order_manager.NewExecutor(c.gateway, clk, c.logger.Named("executor"), c.monitor)

	components := engine.Components{
		Store:        store,
		Executor:     exec,
		Scanner:      scan,
		Queue:        queue,
		Suspension:   suspension,
		Policy:       dispatcher.NewAutoBuyPolicy(),
		AlertManager: c.alertMgr,
		Metrics:      c.monitor,
		Logger:       c.logger,
		Clock:        clk,
	}

	rc := c.cfg.Recorder
	if rc.Enabled {
		c.recStore, err = recorder.Open(rc.Path)
		if err != nil {
			return err
		}
		rec := recorder.New(c.recStore, c.gateway, clk, c.logger)
		rec.Interval, rec.Duration = rc.Interval, rc.Duration
		components.Recorder = rec
		components.Journal = c.recStore
	}

	c.engine, err = engine.New(engine.Config{
		ScannerAutostart: c.cfg.Engine.ScannerAutostart,
		RecordSnapshots:  rc.Enabled && rc.Snapshots,
		StopTimeout:      c.cfg.Engine.StopTimeout,
	}, components)
	if err != nil {
		return err
	}

	c.reloader, err = iconfig.NewHotReloader(c.configPath, iconfig.DefaultHotReloadConfig(), c.logger.Named("reload"))
	if err != nil {
		return err
	}
	c.reloader.RegisterStore(store)
	c.reloader.SetReloadHandler(c.reloadTunables)

	c.logger.Info("core services built")
	return nil
}

// reloadTunables 配置文件变化时重新应用 tunables；名单以名单文件为准。
func (c *Container) reloadTunables() error {
	cfg, err := config.LoadWithEnvOverrides(c.configPath)
	if err != nil && !(c.cfg.DryRun && config.IsCredentialError(err)) {
		return err
	}
	next := cfg.Tunables
	if c.cfg.AllowListFile != "" {
		next.Scanner.AllowList = c.store.Snapshot().Scanner.AllowList
	}
	return c.store.Replace(next)
}

func (c *Container) buildControlSurface() error {
	tc := c.cfg.Telegram
	if !tc.Enabled {
		return nil
	}
	api, err := telegram.Connect(tc.Token)
	if err != nil {
		return err
	}
	var history telegram.History
	if c.recStore != nil {
		history = c.recStore
	}
	c.bot = telegram.New(api, c.engine, c.reloader, history, telegram.Options{
		ChatID:   tc.ChatID,
		AdminIDs: tc.AdminIDs,
	}, c.logger)
	c.engine.SetNotifier(c.bot)
	c.alertMgr.AddChannel(c.bot)
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Enabled {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}

	c.lifecycle.Register(&funcComponent{
		name:  "hot_reloader",
		start: c.reloader.Start,
		stop:  c.reloader.Stop,
	})

	if c.cfg.AllowListFile != "" {
		w := config.Watcher{Path: c.cfg.AllowListFile, Quote: c.cfg.Tunables.Scanner.QuoteCurrency, Interval: time.Second}
		c.lifecycle.Register(backgroundComponent("allow_list_watcher", c.logger, func(ctx context.Context) error {
			return w.Start(ctx, c.applyAllowList)
		}))
	}

	c.lifecycle.Register(&funcComponent{
		name:  "engine",
		start: c.engine.Start,
		stop:  c.engine.Stop,
		health: func() error {
			if s := c.engine.GetState(); s != engine.StateRunning {
				return fmt.Errorf("engine %s", s)
			}
			return nil
		},
	})

	if c.bot != nil {
		c.lifecycle.Register(backgroundComponent("telegram", c.logger, func(ctx context.Context) error {
			c.bot.Listen(ctx)
			<-ctx.Done()
			return nil
		}))
	}
}

func (c *Container) applyAllowList(pairs []string) {
	err := c.store.Update(func(t *iconfig.Tunables) { t.Scanner.AllowList = pairs })
	if err != nil {
		c.logger.Warn("allow list rejected", zap.Error(err))
		return
	}
	c.logger.Info("allow list loaded", zap.Int("pairs", len(pairs)))
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止组件。引擎停止时终止全部会话，残留挂单随会话结果告警。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if c.recStore != nil {
		if cerr := c.recStore.Close(); cerr != nil {
			c.logger.LogError(cerr, map[string]interface{}{"action": "close_recorder"})
		}
	}

	stats := c.engine.GetStatistics()
	c.logger.Info("container stopped",
		zap.Int64("sessions", stats.Launched),
		zap.Int64("leaked_orders", stats.Leaked))
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Engine 交易引擎
func (c *Container) Engine() *engine.TradingEngine { return c.engine }

// Config 已加载的配置
func (c *Container) Config() config.AppConfig { return *c.cfg }
