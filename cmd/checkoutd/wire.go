package main

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tsukikage7/transit-checkout/api"
	"github.com/Tsukikage7/transit-checkout/app"
	"github.com/Tsukikage7/transit-checkout/cache"
	"github.com/Tsukikage7/transit-checkout/collaborator"
	"github.com/Tsukikage7/transit-checkout/collaborator/stripe"
	"github.com/Tsukikage7/transit-checkout/database"
	"github.com/Tsukikage7/transit-checkout/health"
	"github.com/Tsukikage7/transit-checkout/idempotency"
	"github.com/Tsukikage7/transit-checkout/lock"
	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/messaging"
	"github.com/Tsukikage7/transit-checkout/metrics"
	"github.com/Tsukikage7/transit-checkout/orchestrator"
	"github.com/Tsukikage7/transit-checkout/saga"
	"github.com/Tsukikage7/transit-checkout/saga/gormstore"
	"github.com/Tsukikage7/transit-checkout/saga/mongostore"
	"github.com/Tsukikage7/transit-checkout/scheduler"
	"github.com/Tsukikage7/transit-checkout/server"
	"github.com/Tsukikage7/transit-checkout/step"
	"github.com/Tsukikage7/transit-checkout/tracing"
)

// 清理优先级，数字越小越先执行.
const (
	priorityBus    = 10
	priorityStore  = 20
	priorityCache  = 30
	priorityTracer = 40
	priorityLogger = 100
)

// components 各子命令共享的基础组件.
type components struct {
	cfg       *Config
	log       logger.Logger
	metrics   *metrics.PrometheusCollector
	cache     cache.Cache
	bus       *messaging.Client
	publisher *saga.BusPublisher
	health    *health.Health
	cleanups  []app.Cleanup
}

// newComponents 创建日志、指标、追踪与缓存，出错时释放已创建的资源.
func newComponents(cfg *Config) (c *components, err error) {
	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	c = &components{cfg: cfg, log: log, health: health.New()}
	defer func() {
		if err != nil {
			c.release(context.Background())
		}
	}()
	c.onClose("logger", closer(log), priorityLogger)

	if c.metrics, err = metrics.NewMetrics(&cfg.Metrics); err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	tp, err := tracing.NewTracer(context.Background(), &cfg.Tracing, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, fmt.Errorf("create tracer: %w", err)
	}
	c.onClose("tracer", tp.Shutdown, priorityTracer)

	if c.cache, err = cache.NewCache(&cfg.Redis, log); err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	c.onClose("cache", closer(c.cache), priorityCache)
	c.health.Add(health.NewPingChecker("cache", cfg.Redis.Type, c.cache))
	return c, nil
}

// connectBus 创建总线客户端与事件发布器.
func (c *components) connectBus() error {
	bus, err := messaging.NewClient(&c.cfg.Bus,
		messaging.WithLogger(c.log),
		messaging.WithMetrics(c.metrics),
	)
	if err != nil {
		return fmt.Errorf("create bus: %w", err)
	}
	c.bus = bus
	c.onClose("bus", closer(bus), priorityBus)

	producer, err := bus.Producer()
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	c.publisher = saga.NewPublisher(producer, c.log)
	return nil
}

func (c *components) onClose(name string, fn app.CleanupFunc, priority int) {
	c.cleanups = append(c.cleanups, app.Cleanup{Name: name, Fn: fn, Priority: priority})
}

func closer(cl interface{ Close() error }) app.CleanupFunc {
	return func(context.Context) error { return cl.Close() }
}

// release 应用未启动时按优先级执行已注册的清理.
func (c *components) release(ctx context.Context) {
	cleanups := slices.Clone(c.cleanups)
	slices.SortStableFunc(cleanups, func(a, b app.Cleanup) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	for _, cl := range cleanups {
		if err := cl.Fn(ctx); err != nil {
			c.log.Warnf("[App] 清理失败 [%s]: %v", cl.Name, err)
		}
	}
}

// application 创建应用并挂载清理任务.
func (c *components) application() *app.Application {
	return app.New(
		app.Name(c.cfg.App.Name),
		app.Version(c.cfg.App.Version),
		app.Logger(c.log),
		app.GracefulTimeout(c.cfg.App.GracefulTimeout),
		app.SetHooks(app.NewHooks().
			On(app.PhaseAfterStart, "ready", func(context.Context) error {
				c.log.Infof("[App] %s 已就绪 [http:%s]", c.cfg.App.Name, c.cfg.HTTP.Addr)
				return nil
			}).
			On(app.PhaseBeforeStop, "drain", func(context.Context) error {
				c.health.Drain()
				return nil
			}).
			Build()),
		app.Cleanups(c.cleanups...),
	)
}

// openStore 按配置打开 saga 存储.
func (c *components) openStore(ctx context.Context) (saga.Store, error) {
	var store saga.Store
	switch c.cfg.Store.Type {
	case StoreGORM:
		db, err := database.OpenGORM(&c.cfg.Store.Database, c.log)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		c.onClose("database", func(context.Context) error {
			return database.CloseGORM(db)
		}, priorityStore)
		c.health.Add(health.NewPingChecker("database", c.cfg.Store.Database.Driver, health.PingFunc(func(ctx context.Context) error {
			return database.PingGORM(ctx, db)
		})))

		gs := gormstore.New(db, gormstore.WithLogger(c.log))
		if c.cfg.Store.Migrate {
			if err := gs.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		store = gs
	case StoreMongo:
		db, err := database.OpenMongo(ctx, &c.cfg.Store.Mongo, c.log)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		c.onClose("mongo", func(ctx context.Context) error {
			return db.Client().Disconnect(ctx)
		}, priorityStore)
		c.health.Add(health.NewPingChecker("mongo", "mongodb", health.PingFunc(func(ctx context.Context) error {
			return db.Client().Ping(ctx, nil)
		})))

		ms := mongostore.New(db, mongostore.WithLogger(c.log))
		if c.cfg.Store.Migrate {
			if err := ms.EnsureIndexes(ctx); err != nil {
				return nil, err
			}
		}
		store = ms
	default:
		store = saga.NewMemoryStore()
	}

	if c.cfg.Store.CacheTTL > 0 {
		store = saga.NewCachedStore(store, c.cache,
			saga.WithCacheTTL(c.cfg.Store.CacheTTL),
			saga.WithCacheLogger(c.log),
		)
	}
	return store, nil
}

// orchestratorServers 结果消费者、超时清理调度器与 HTTP 接口.
func (c *components) orchestratorServers(ctx context.Context) ([]app.Server, error) {
	store, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(store, c.publisher,
		orchestrator.WithConfig(&c.cfg.Saga),
		orchestrator.WithLogger(c.log),
		orchestrator.WithMetrics(c.metrics),
	)

	sched, err := scheduler.New(
		scheduler.WithLogger(c.log),
		scheduler.WithLocker(lock.NewRedis(c.cache, lock.WithKeyPrefix("checkout:lock:"))),
		scheduler.WithJobTimeout(c.cfg.Reaper.JobTimeout),
		scheduler.WithShutdownTimeout(c.cfg.App.GracefulTimeout),
		scheduler.WithObserver(func(job string, _ time.Duration, skipped bool, err error) {
			result := "ok"
			if skipped {
				result = "skipped"
			} else if err != nil {
				result = "error"
			}
			c.metrics.Counter("scheduler_job_runs_total", map[string]string{"job": job, "result": result})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if err := orchestrator.NewReaper(orch, &c.cfg.Reaper).Register(sched); err != nil {
		return nil, fmt.Errorf("register reaper: %w", err)
	}

	handler := api.New(orch,
		api.WithLogger(c.log),
		api.WithMetrics(c.metrics),
		api.WithHealth(c.health),
	).Routes()

	return []app.Server{
		app.NewRunner("outcome-consumer", func(ctx context.Context) error {
			consumer, err := c.bus.Consumer(c.cfg.Saga.ConsumerGroup)
			if err != nil {
				return err
			}
			return orch.Run(ctx, consumer)
		}),
		app.NewRunner("reaper", sched.Run),
		c.httpServer("api", handler),
	}, nil
}

// workerServers 步骤处理器.
func (c *components) workerServers() ([]app.Server, error) {
	deps, err := c.collaborators()
	if err != nil {
		return nil, err
	}

	caller := step.NewCaller(&c.cfg.Step, c.log)
	worker := step.NewWorker(c.bus.Consumer, c.publisher,
		idempotency.NewStore(idempotency.CacheKV(c.cache), idempotency.WithLogger(c.log)),
		step.WithLogger(c.log),
		step.WithMetrics(c.metrics),
		step.WithConcurrency(c.cfg.Step.Concurrency),
		step.WithGroupPrefix(c.cfg.Step.GroupPrefix),
	)
	if err := worker.Register(step.Handlers(deps, caller)...); err != nil {
		return nil, err
	}
	return []app.Server{app.NewRunner("step-worker", worker.Run)}, nil
}

// opsServer 仅暴露健康检查与指标，供独立运行的 worker 使用.
func (c *components) opsServer() app.Server {
	mux := http.NewServeMux()
	c.health.RegisterRoutes(mux)
	mux.Handle("GET "+c.metrics.GetPath(), c.metrics.GetHandler())
	return c.httpServer("ops", mux)
}

func (c *components) httpServer(name string, handler http.Handler) *server.HTTP {
	return server.NewHTTP(handler,
		server.WithName(name),
		server.WithConfig(c.cfg.HTTP),
		server.WithLogger(c.log),
	)
}

// collaborators 创建下游服务.
//
// 目录、优惠、订单与票务使用内存实现并按配置填充初始数据；
// 配置了 Stripe 密钥时 CARD 走 Stripe，否则走内存网关.
func (c *components) collaborators() (*step.Dependencies, error) {
	seed := c.cfg.Collaborators

	catalog := collaborator.NewMemoryCatalog()
	for _, item := range seed.Catalog {
		catalog.Put(collaborator.CatalogItem{
			ID:        item.ID,
			Name:      item.Name,
			Kind:      item.Kind,
			Active:    true,
			Available: item.Available,
			UnitPrice: decimal.RequireFromString(item.UnitPrice),
		})
	}

	discounts := collaborator.NewMemoryDiscounts()
	for id, percent := range seed.Packages {
		discounts.AddPackage(id, decimal.RequireFromString(percent))
	}
	for _, v := range seed.Vouchers {
		discounts.AddVoucher(v.ID, decimal.RequireFromString(v.Amount), v.Owner)
	}

	var card collaborator.PaymentGateway = collaborator.NewMemoryGateway("card")
	if c.cfg.Payment.Stripe.SecretKey != "" {
		gw, err := stripe.New(&c.cfg.Payment.Stripe, c.log)
		if err != nil {
			return nil, fmt.Errorf("create stripe gateway: %w", err)
		}
		card = gw
	}

	return &step.Dependencies{
		Catalog:   catalog,
		Discounts: discounts,
		Orders:    collaborator.NewMemoryOrders(),
		Payments: collaborator.NewPaymentRouter(map[string]collaborator.PaymentGateway{
			saga.PaymentCash: collaborator.NewMemoryGateway("cash"),
			saga.PaymentCard: card,
		}),
		Tickets: collaborator.NewMemoryTickets(),
	}, nil
}
