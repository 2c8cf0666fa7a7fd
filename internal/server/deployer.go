package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/cache"
	"github.com/any-hub/peg-hub/internal/config"
	"github.com/any-hub/peg-hub/internal/worker"
)

// Deployer 把 App 配置转换为 worker 版本并交给对应注册安装。
type Deployer struct {
	store  cache.Store
	client *http.Client
	logger *logrus.Logger

	maxBackground int
}

// NewDeployer 创建 Deployer；store 与 client 在所有 App 间共享。
func NewDeployer(store cache.Store, client *http.Client, global config.GlobalConfig, logger *logrus.Logger) (*Deployer, error) {
	if store == nil {
		return nil, cache.ErrStoreUnavailable
	}
	if client == nil {
		return nil, errors.New("upstream client is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Deployer{
		store:         store,
		client:        client,
		logger:        logger,
		maxBackground: global.MaxBackgroundRefresh,
	}, nil
}

// Build 根据路由构建处于 parsed 状态的 worker。
func (d *Deployer) Build(route *AppRoute) (*worker.Worker, error) {
	cfg := route.Config
	return worker.New(worker.Options{
		App:                  cfg.Name,
		Version:              cfg.Version,
		CachePrefix:          cfg.CachePrefix,
		Scope:                route.ScopeURL,
		Profile:              route.Profile,
		CoreAssets:           cfg.CoreAssets,
		DataSuffixes:         cfg.DataSuffixes,
		OfflineFallback:      cfg.OfflineFallback,
		Store:                d.store,
		Fetcher:              worker.NewHTTPFetcher(d.client, route.ScopeURL, route.UpstreamURL),
		Logger:               d.logger,
		MaxBackgroundRefresh: d.maxBackground,
	})
}

// Deploy 构建并安装路由当前配置的版本。
func (d *Deployer) Deploy(ctx context.Context, route *AppRoute) error {
	fields := logrus.Fields{
		"action":  "deploy",
		"app":     route.Config.Name,
		"version": route.Config.Version,
		"variant": route.Profile.Variant,
	}
	w, err := d.Build(route)
	if err != nil {
		d.logger.WithFields(fields).WithError(err).Error("deploy_failed")
		return fmt.Errorf("app %s: %w", route.Config.Name, err)
	}
	if err := route.Registration.Update(ctx, w); err != nil {
		d.logger.WithFields(fields).WithError(err).Error("deploy_failed")
		return fmt.Errorf("app %s: %w", route.Config.Name, err)
	}
	d.logger.WithFields(fields).Info("deploy_complete")
	return nil
}

// DeployAll 依次部署所有路由；单个 App 失败不影响其它 App，错误合并返回。
func (d *Deployer) DeployAll(ctx context.Context, routes []*AppRoute) error {
	var errs []error
	for _, route := range routes {
		if err := d.Deploy(ctx, route); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Redeploy 应用新配置，只部署新增或部署字段变化的 App。
// 版本号不变时注册会把更新视为空操作，资源清单变化需要同时提升 Version。
func (d *Deployer) Redeploy(ctx context.Context, registry *AppRegistry, cfg *config.Config) error {
	changed, removed, err := registry.Apply(cfg)
	if err != nil {
		return err
	}
	d.logger.WithFields(logrus.Fields{
		"action":  "redeploy",
		"changed": len(changed),
		"removed": len(removed),
	}).Info("redeploy_start")
	return d.DeployAll(ctx, changed)
}
