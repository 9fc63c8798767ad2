package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tsukikage7/transit-checkout/app"
	"github.com/Tsukikage7/transit-checkout/config"
)

// EnvPrefix 环境变量前缀，CHECKOUT_STORE_TYPE 覆盖 store.type.
const EnvPrefix = "CHECKOUT"

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  map[string]string
	)

	root := &cobra.Command{
		Use:           "checkoutd",
		Short:         "Transit checkout saga orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringToStringVar(&overrides, "set", nil, "override a config key, e.g. --set store.type=memory")

	load := func() (*Config, error) {
		return config.Load[Config](configPath, config.WithEnvPrefix(EnvPrefix), config.WithOverrides(overrides))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "orchestrator",
			Short: "Run the outcome consumer, query API and reaper",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				if err := cfg.requireSharedBus(); err != nil {
					return err
				}
				return run(cmd.Context(), cfg, modeOrchestrator)
			},
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Run the step handlers",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				if err := cfg.requireSharedBus(); err != nil {
					return err
				}
				return run(cmd.Context(), cfg, modeWorker)
			},
		},
		&cobra.Command{
			Use:   "all",
			Short: "Run the orchestrator and the step handlers in one process",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return run(cmd.Context(), cfg, modeAll)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the saga table or indexes and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return migrate(cmd.Context(), cfg)
			},
		},
	)
	return root
}

type mode int

const (
	modeOrchestrator mode = iota
	modeWorker
	modeAll
)

// run 组装组件并阻塞运行，直到收到退出信号或某个组件出错.
func run(ctx context.Context, cfg *Config, m mode) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := newComponents(cfg)
	if err != nil {
		return err
	}

	if err := c.connectBus(); err != nil {
		c.release(context.Background())
		return err
	}
	servers, err := c.servers(ctx, m)
	if err != nil {
		c.release(context.Background())
		return err
	}

	c.log.Infof("[App] checkoutd 启动 [mode:%s] [bus:%s] [store:%s]", m, cfg.Bus.Type, cfg.Store.Type)
	return c.application().Use(servers...).Run()
}

func (c *components) servers(ctx context.Context, m mode) ([]app.Server, error) {
	var servers []app.Server
	if m == modeOrchestrator || m == modeAll {
		s, err := c.orchestratorServers(ctx)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s...)
	}
	if m == modeWorker || m == modeAll {
		s, err := c.workerServers()
		if err != nil {
			return nil, err
		}
		servers = append(servers, s...)
	}
	if m == modeWorker {
		servers = append(servers, c.opsServer())
	}
	return servers, nil
}

func (m mode) String() string {
	switch m {
	case modeOrchestrator:
		return "orchestrator"
	case modeWorker:
		return "worker"
	default:
		return "all"
	}
}

// migrate 迁移 saga 存储后退出.
func migrate(ctx context.Context, cfg *Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Store.Type == StoreMemory {
		return fmt.Errorf("migrate: store type %q has nothing to migrate", cfg.Store.Type)
	}
	cfg.Store.Migrate = true

	c, err := newComponents(cfg)
	if err != nil {
		return err
	}
	defer c.release(context.Background())

	if _, err := c.openStore(ctx); err != nil {
		return err
	}
	c.log.Infof("[App] saga 存储迁移完成 [store:%s]", cfg.Store.Type)
	return nil
}
