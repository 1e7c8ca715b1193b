package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ltpbot/internal/application/container"
	"ltpbot/internal/application/port"
	"ltpbot/internal/application/service"
	"ltpbot/internal/application/usecase/trader"
	"ltpbot/internal/domain/model"
	domainservice "ltpbot/internal/domain/service"
	"ltpbot/internal/infrastructure/broker"
	"ltpbot/internal/infrastructure/clock"
	"ltpbot/internal/infrastructure/config"
	"ltpbot/internal/infrastructure/feed"
	"ltpbot/internal/infrastructure/metrics"
	"ltpbot/internal/infrastructure/storage/composite"
	"ltpbot/internal/infrastructure/storage/filestate"
	pgrepo "ltpbot/internal/infrastructure/storage/postgres"
	redisrepo "ltpbot/internal/infrastructure/storage/redis"
	sqliterepo "ltpbot/internal/infrastructure/storage/sqlite"
)

type ServiceContext struct {
	Ctx        context.Context
	Config     *config.Config
	Instrument model.Instrument

	// 基础设施层（第一层初始化）
	clock       port.Clock
	redisClient *redisclient.Client
	store       *filestate.Store
	cooldowns   port.CooldownStore
	repos       []port.Repository
	repo        port.Repository
	broker      port.Broker
	registry    *prometheus.Registry
	metrics     *metrics.Metrics

	// 应用业务组件（依赖基础设施）
	container *container.Container
	routes    []service.QuoteRoute
	router    *service.QuoteRouter
	rules     *domainservice.RuleEngine
	trader    *trader.Service

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
// 这里不发起任何券商网络请求，需要时调用 ConnectBroker
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	inst, err := cfg.LoadInstrument()
	if err != nil {
		return nil, err
	}

	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Instrument:  inst,
		clock:       clock.System{},
		closerChain: make([]func() error, 0),
	}

	// 初始化所有组件，按依赖顺序
	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 初始化所有应用组件
// 按照依赖关系有序初始化，确保不会有循环依赖
func (sc *ServiceContext) initializeComponents() error {
	// 0. 存储层 (最基础，最后被其他依赖使用)
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}

	// 1. 券商与价格源
	sc.initBroker()
	if err := sc.initFeeds(); err != nil {
		return err
	}

	// 2. 规则、路由、指标
	sc.rules = domainservice.NewRuleEngine(sc.Config.RuleConfig())
	sc.router = service.NewQuoteRouter(service.QuoteRouterDeps{
		Routes:    sc.routes,
		Cooldowns: sc.cooldowns,
		Cooldown:  sc.Config.Cooldown(),
		Clock:     sc.clock,
		Source:    sc.Config.Quote.Source,
	})
	sc.registry = prometheus.NewRegistry()
	sc.metrics = metrics.New(sc.registry)

	// 3. 决策循环
	sc.container = container.New(sc.store, sc.repo, sc.Config.Rules.Quantity)
	sc.trader = trader.NewService(trader.ServiceDeps{
		Services:   sc.container,
		Router:     sc.router,
		Rules:      sc.rules,
		Broker:     sc.broker,
		Metrics:    sc.metrics,
		Clock:      sc.clock,
		Instrument: sc.Instrument,
	})

	log.Info().
		Str("instrument", sc.Instrument.String()).
		Strs("sources", sc.router.Sources()).
		Str("broker", sc.broker.Name()).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化存储层 (状态文件、冷却标记、交易日志)
func (sc *ServiceContext) initializeStorage() error {
	cfg := sc.Config

	store, err := filestate.New(cfg.State.Path, filestate.Options{
		LockTimeout: time.Duration(cfg.State.LockTimeoutSec) * time.Second,
		Clock:       sc.clock,
		Location:    cfg.MarketLocation(),
	})
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	sc.store = store

	// Redis 初始化
	if cfg.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}
	if sc.cooldowns == nil {
		sc.cooldowns = filestate.NewCooldownStore(cfg.Quote.CooldownDir, cfg.Cooldown(),
			map[string]string{feed.NameYahoo: cfg.Quote.CooldownFile})
	}

	// SQLite 初始化
	if cfg.SQLite.Enabled {
		if err := sc.initSQLite(); err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
	}

	// Postgres 初始化
	if cfg.Postgres.Enabled {
		if err := sc.initPostgres(); err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
	}

	switch len(sc.repos) {
	case 0:
		sc.repo = trader.NewNoopRepo()
	case 1:
		sc.repo = sc.repos[0]
	default:
		sc.repo = composite.New(sc.repos...)
	}

	log.Info().
		Str("state", store.Path()).
		Int("journals", len(sc.repos)).
		Msg("✓ Storage initialized")
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	ttl := time.Duration(sc.Config.Redis.TTLSeconds) * time.Second

	sc.repos = append(sc.repos, redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		ttl,
		sc.Config.Redis.SignalStream,
		sc.Config.Redis.SignalChannel,
	))
	sc.cooldowns = redisrepo.NewCooldownStore(rdb, sc.Config.Redis.Prefix, sc.clock)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")

	return nil
}

// initSQLite 初始化 SQLite 数据库
func (sc *ServiceContext) initSQLite() error {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite repo creation failed: %w", err)
	}
	sc.repos = append(sc.repos, repo)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", sc.Config.SQLite.Path).
		Msg("✓ SQLite initialized")

	return nil
}

// initPostgres 初始化 Postgres 连接
func (sc *ServiceContext) initPostgres() error {
	repo, err := pgrepo.New(sc.Config.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres repo creation failed: %w", err)
	}
	sc.repos = append(sc.repos, repo)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})

	log.Info().Msg("✓ Postgres initialized")
	return nil
}

// initBroker 按模式创建券商客户端
func (sc *ServiceContext) initBroker() {
	b := sc.Config.Broker
	switch b.Mode {
	case config.BrokerModeREST:
		sc.broker = broker.NewRESTBroker(broker.RESTOptions{
			BaseURL:      b.BaseURL,
			APIKey:       b.APIKey,
			APISecret:    b.APISecret,
			SessionToken: b.SessionToken,
			Product:      b.Product,
			Validity:     b.Validity,
			ExchangeCode: sc.Config.RuleConfig().ExchangeCode,
			Timeout:      sc.Config.HTTPTimeout(),
			Retries:      sc.Config.Quote.Retries,
		})
	default:
		sc.broker = broker.NewPaperBroker()
	}
}

// initFeeds 按优先级构建价格源：通用源、交易所源、流式源、券商源
func (sc *ServiceContext) initFeeds() error {
	q := sc.Config.Quote
	base := feed.Options{Timeout: sc.Config.HTTPTimeout(), Retries: q.Retries}

	type candidate struct {
		name    string
		enabled bool
		opts    feed.Options
		primary bool
	}
	candidates := []candidate{
		{feed.NameYahoo, q.Yahoo.Enabled, withBase(base, q.Yahoo.BaseURL), true},
		{feed.NameNSE, q.NSE.Enabled, withBase(base, q.NSE.BaseURL), false},
		{feed.NameStream, q.Stream.Enabled, feed.Options{
			WsURL:      q.Stream.WsURL,
			StaleAfter: time.Duration(q.Stream.StaleAfterSec) * time.Second,
		}, false},
	}

	for _, c := range candidates {
		if !c.enabled {
			continue
		}
		factory, ok := feed.Get(c.name)
		if !ok {
			return fmt.Errorf("price feed %q not registered", c.name)
		}
		f, err := factory(c.opts)
		if err != nil {
			return fmt.Errorf("price feed %s: %w", c.name, err)
		}
		if closer, ok := f.(interface{ Close() error }); ok {
			sc.closerChain = append(sc.closerChain, closer.Close)
		}
		sc.routes = append(sc.routes, service.QuoteRoute{Feed: f, CooldownOnMiss: c.primary})
	}

	if sc.Config.Broker.QuoteFallback || q.Source == feed.NameBroker {
		sc.routes = append(sc.routes, service.QuoteRoute{Feed: feed.NewBrokerFeed(sc.broker)})
	}

	if len(sc.routes) == 0 {
		return ErrNoFeedsEnabled
	}
	if q.Source != service.SourceAuto && !sc.hasRoute(q.Source) {
		return fmt.Errorf("%w: quote source %q is not enabled", ErrNoFeedsEnabled, q.Source)
	}
	return nil
}

func withBase(opts feed.Options, baseURL string) feed.Options {
	opts.BaseURL = baseURL
	return opts
}

func (sc *ServiceContext) hasRoute(name string) bool {
	for _, r := range sc.routes {
		if r.Feed.Name() == name {
			return true
		}
	}
	return false
}

// ConnectBroker 建立券商会话（run / flatten / quote 命令需要）
func (sc *ServiceContext) ConnectBroker(ctx context.Context) error {
	if err := sc.broker.Connect(ctx); err != nil {
		return fmt.Errorf("broker %s connect: %w", sc.broker.Name(), err)
	}
	return nil
}

// Trader 获取决策循环
func (sc *ServiceContext) Trader() *trader.Service {
	return sc.trader
}

// Container 获取应用服务容器
func (sc *ServiceContext) Container() *container.Container {
	return sc.container
}

// Gatherer 获取指标注册表
func (sc *ServiceContext) Gatherer() prometheus.Gatherer {
	return sc.registry
}

// Close 关闭 ServiceContext 中的所有资源
// 包括存储连接、网络连接等
// 应该在应用退出时调用
func (sc *ServiceContext) Close() error {
	// 按照相反的顺序关闭所有资源
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}
