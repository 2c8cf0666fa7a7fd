package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/config"
	"github.com/any-hub/peg-hub/internal/variant"
	"github.com/any-hub/peg-hub/internal/worker"
)

// AppRoute 将 App 配置与派生属性（解析后的 Upstream/Scope、最终 profile）
// 以及该 App 的 worker 注册聚合在一起，供路由/代理层直接复用。
// AppRoute 创建后只读；配置变更时由 AppRegistry 替换为新的实例。
type AppRoute struct {
	// Config 是 config.toml 中 [[App]] 的副本。
	Config config.AppConfig
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort  int
	UpstreamURL *url.URL
	ScopeURL    *url.URL
	Variant     variant.Metadata
	Profile     variant.Profile
	// Registration 在配置热更新之间保持不变，已连接的客户端不会丢失。
	Registration *worker.Registration
}

// AppRegistry 提供 Host/Host:port 到 AppRoute 的查询能力，所有 App 共享同一个监听端口。
type AppRegistry struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	routes  map[string]*AppRoute
	byName  map[string]*AppRoute
	ordered []*AppRoute
}

// NewAppRegistry 根据配置构建 Host 映射并为每个 App 创建注册。
func NewAppRegistry(cfg *config.Config, logger *logrus.Logger) (*AppRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	registry := &AppRegistry{logger: logger}
	if _, _, err := registry.Apply(cfg); err != nil {
		return nil, err
	}
	return registry, nil
}

// Apply 用新配置替换路由表。已存在的 App（按 Name）沿用原注册；
// 返回部署相关字段发生变化（或新增）的路由，以及被移除的路由（其注册已关闭）。
func (r *AppRegistry) Apply(cfg *config.Config) (changed []*AppRoute, removed []*AppRoute, err error) {
	if cfg == nil {
		return nil, nil, errors.New("config is nil")
	}

	r.mu.RLock()
	previous := r.byName
	r.mu.RUnlock()

	routes := make(map[string]*AppRoute, len(cfg.Apps))
	byName := make(map[string]*AppRoute, len(cfg.Apps))
	ordered := make([]*AppRoute, 0, len(cfg.Apps))
	for _, app := range cfg.Apps {
		host := normalizeDomain(app.Domain)
		if host == "" {
			return nil, nil, fmt.Errorf("invalid domain for app %s", app.Name)
		}
		if _, exists := routes[host]; exists {
			return nil, nil, fmt.Errorf("duplicate domain mapping detected for %s", host)
		}

		old := previous[app.Name]
		route, err := r.buildAppRoute(cfg, app, old)
		if err != nil {
			return nil, nil, err
		}
		if old == nil || deploymentChanged(old.Config, route.Config) {
			changed = append(changed, route)
		}
		routes[host] = route
		byName[app.Name] = route
		ordered = append(ordered, route)
	}

	for name, old := range previous {
		if _, kept := byName[name]; !kept {
			removed = append(removed, old)
		}
	}

	r.mu.Lock()
	r.routes, r.byName, r.ordered = routes, byName, ordered
	r.mu.Unlock()

	for _, route := range removed {
		route.Registration.Close()
		r.logger.WithFields(logrus.Fields{"action": "registry_apply", "app": route.Config.Name}).Info("app_removed")
	}
	return changed, removed, nil
}

// Lookup 根据 Host 或 Host:port 查找 AppRoute。
func (r *AppRegistry) Lookup(host string) (*AppRoute, bool) {
	if r == nil {
		return nil, false
	}
	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Route 按 App 名称查找路由，供 /-/workers 诊断端使用。
func (r *AppRegistry) Route(name string) (*AppRoute, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.byName[name]
	return route, ok
}

// List 返回当前注册的 AppRoute 列表（按配置定义的顺序）。
func (r *AppRegistry) List() []*AppRoute {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ordered) == 0 {
		return nil
	}
	return append([]*AppRoute(nil), r.ordered...)
}

// Close 关闭所有注册。
func (r *AppRegistry) Close() {
	for _, route := range r.List() {
		route.Registration.Close()
	}
}

func (r *AppRegistry) buildAppRoute(cfg *config.Config, app config.AppConfig, old *AppRoute) (*AppRoute, error) {
	runtime, err := config.BuildAppRuntime(app)
	if err != nil {
		return nil, fmt.Errorf("app %s: %w", app.Name, err)
	}

	upstreamURL, err := url.Parse(app.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for app %s: %w", app.Name, err)
	}

	registration := worker.NewRegistration(app.Name, r.logger)
	if old != nil {
		registration = old.Registration
	}

	return &AppRoute{
		Config:       app,
		ListenPort:   cfg.Global.ListenPort,
		UpstreamURL:  upstreamURL,
		ScopeURL:     app.ScopeURL(),
		Variant:      runtime.Variant,
		Profile:      runtime.Profile,
		Registration: registration,
	}, nil
}

// deploymentChanged 判断两份 App 配置是否需要重新部署 worker。
func deploymentChanged(old, next config.AppConfig) bool {
	return !reflect.DeepEqual(old, next)
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
