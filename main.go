package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/cache"
	"github.com/any-hub/peg-hub/internal/config"
	"github.com/any-hub/peg-hub/internal/logging"
	"github.com/any-hub/peg-hub/internal/proxy"
	"github.com/any-hub/peg-hub/internal/server"
	"github.com/any-hub/peg-hub/internal/server/routes"
	"github.com/any-hub/peg-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	reset       bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["apps"] = len(cfg.Apps)
		fields["variants"] = config.Variants(cfg.Apps)
		fields["store"] = cfg.Global.StoreBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	h, err := newHub(opts, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer h.Close()

	// 部署失败的 App 仍保留路由，请求会透传到上游，等待下一次配置变更重试。
	if err := h.deployer.DeployAll(context.Background(), h.registry.List()); err != nil {
		logger.WithFields(logging.BaseFields("startup_deploy", opts.configPath)).WithError(err).Warn("deploy_incomplete")
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["apps"] = len(cfg.Apps)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["variants"] = config.Variants(cfg.Apps)
	fields["store"] = cfg.Global.StoreBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := config.Watch(opts.configPath, logger, h.applyConfig); err != nil {
		logger.WithFields(logging.BaseFields("config_watch", opts.configPath)).WithError(err).Warn("config_watch_disabled")
	}

	if err := h.listen(); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("peg-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		reset      bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PEG_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&reset, "reset", false, "以 reset variant 部署所有 App（kill switch）")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PEG_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		reset:       reset,
	}, nil
}

func loadConfig(opts cliOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.reset {
		cfg.ForceReset()
	}
	return cfg, nil
}

// hub 持有进程级共享实例：一个存储、一个上游 client、一个注册表。
type hub struct {
	opts     cliOptions
	cfg      *config.Config
	logger   *logrus.Logger
	store    cache.Store
	client   *http.Client
	registry *server.AppRegistry
	deployer *server.Deployer

	// reloadMu 串行化文件监听与手动“检查更新”触发的重新部署。
	reloadMu sync.Mutex
}

// newHub 遵循“存储 → 上游 client → AppRegistry → Deployer”顺序构建共享实例。
func newHub(opts cliOptions, cfg *config.Config, logger *logrus.Logger) (*hub, error) {
	store, err := cache.NewStore(cfg.Global.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}
	client := server.NewUpstreamClient(cfg)

	registry, err := server.NewAppRegistry(cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("构建 App 注册表失败: %w", err)
	}
	deployer, err := server.NewDeployer(store, client, cfg.Global, logger)
	if err != nil {
		registry.Close()
		store.Close()
		return nil, err
	}
	return &hub{
		opts:     opts,
		cfg:      cfg,
		logger:   logger,
		store:    store,
		client:   client,
		registry: registry,
		deployer: deployer,
	}, nil
}

// newApp 构建 Fiber 应用并挂载代理与 /-/ 诊断接口。
func (h *hub) newApp() (*fiber.App, error) {
	forwarder := proxy.NewForwarder(proxy.NewHandler(h.client, h.logger), h.logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:     h.logger,
		Registry:   h.registry,
		Proxy:      forwarder,
		ListenPort: h.cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterVariantRoutes(app, h.registry)
	routes.RegisterMetricsRoute(app)
	routes.RegisterWorkerRoutes(app, routes.WorkerRouteOptions{
		Registry: h.registry,
		Updater:  h.checkForUpdates,
		Client:   h.client,
		Logger:   h.logger,
	})
	return app, nil
}

func (h *hub) listen() error {
	app, err := h.newApp()
	if err != nil {
		return err
	}
	port := h.cfg.Global.ListenPort
	h.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")
	return app.Listen(fmt.Sprintf(":%d", port))
}

// applyConfig 是配置文件变化的回调；全局设置变化需要重启才会生效。
func (h *hub) applyConfig(cfg *config.Config) {
	if h.opts.reset {
		cfg.ForceReset()
	}
	if err := h.redeploy(context.Background(), cfg); err != nil {
		h.logger.WithFields(logging.BaseFields("config_reload", h.opts.configPath)).WithError(err).Warn("redeploy_failed")
	}
}

// checkForUpdates 重新读取配置文件并部署变化的 App。
func (h *hub) checkForUpdates(ctx context.Context) error {
	cfg, err := loadConfig(h.opts)
	if err != nil {
		return err
	}
	return h.redeploy(ctx, cfg)
}

func (h *hub) redeploy(ctx context.Context, cfg *config.Config) error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	if cfg.Global != h.cfg.Global {
		h.logger.WithFields(logging.BaseFields("config_reload", h.opts.configPath)).Warn("global_change_requires_restart")
	}
	return h.deployer.Redeploy(ctx, h.registry, cfg)
}

// Close 释放注册表与存储。
func (h *hub) Close() {
	h.registry.Close()
	if err := h.store.Close(); err != nil {
		h.logger.WithError(err).Warn("store_close_failed")
	}
}
