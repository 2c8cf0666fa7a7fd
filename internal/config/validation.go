package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/peg-hub/internal/cache"
	"github.com/any-hub/peg-hub/internal/variant"
)

const (
	supportedBackendList   = "fs|leveldb|sqlite|redis"
	supportedStrategyList  = "network-first|cache-first|stale-while-revalidate|pass-through"
	supportedActivationSet = "immediate|wait"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch cache.Backend(g.StoreBackend) {
	case cache.BackendFS, cache.BackendLevelDB, cache.BackendSQLite:
	case cache.BackendRedis:
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("Global.RedisAddr", "redis 后端必须配置地址")
		}
	default:
		return newFieldError("Global.StoreBackend", "仅支持 "+supportedBackendList)
	}
	if g.RedisDB < 0 {
		return newFieldError("Global.RedisDB", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxBackgroundRefresh < 0 {
		return newFieldError("Global.MaxBackgroundRefresh", "不能为负数")
	}

	if len(c.Apps) == 0 {
		return errors.New("至少需要配置一个 App")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]string{}
	for i := range c.Apps {
		app := &c.Apps[i]
		if app.Name == "" {
			return newFieldError("App[].Name", "不能为空")
		}
		if _, exists := seenNames[app.Name]; exists {
			return newFieldError(appField(app.Name, "Name"), "重复")
		}
		seenNames[app.Name] = struct{}{}

		if err := validateDomain(app.Domain); err != nil {
			return fmt.Errorf("%s: %w", appField(app.Name, "Domain"), err)
		}
		if owner, exists := seenDomains[app.Domain]; exists {
			return newFieldError(appField(app.Name, "Domain"), "与 "+owner+" 重复")
		}
		seenDomains[app.Domain] = app.Name

		if app.Scheme != "http" && app.Scheme != "https" {
			return newFieldError(appField(app.Name, "Scheme"), "仅支持 http/https")
		}
		if err := validateUpstream(app.Upstream); err != nil {
			return fmt.Errorf("%s: %w", appField(app.Name, "Upstream"), err)
		}
		if app.Version == "" {
			return newFieldError(appField(app.Name, "Version"), "不能为空")
		}
		if strings.ContainsAny(app.Version, "/\\ ") {
			return newFieldError(appField(app.Name, "Version"), "不允许包含空格或路径分隔符")
		}
		if strings.ContainsAny(app.CachePrefix, "/\\ ") {
			return newFieldError(appField(app.Name, "CachePrefix"), "不允许包含空格或路径分隔符")
		}

		if _, ok := variant.Resolve(app.Variant); !ok {
			return newFieldError(appField(app.Name, "Variant"), fmt.Sprintf("未注册 variant: %s", app.Variant))
		}
		if !validStrategyOverride(app.AssetStrategy) {
			return newFieldError(appField(app.Name, "AssetStrategy"), "仅支持 "+supportedStrategyList)
		}
		if !validStrategyOverride(app.DataStrategy) {
			return newFieldError(appField(app.Name, "DataStrategy"), "仅支持 "+supportedStrategyList)
		}
		if !validActivationOverride(app.Activation) {
			return newFieldError(appField(app.Name, "Activation"), "仅支持 "+supportedActivationSet)
		}

		for _, suffix := range app.DataSuffixes {
			if strings.TrimSpace(suffix) == "" {
				return newFieldError(appField(app.Name, "DataSuffixes"), "不允许空后缀")
			}
		}
		if app.DataURL != "" {
			if err := validateAsset(app.Domain, app.DataURL); err != nil {
				return fmt.Errorf("%s: %w", appField(app.Name, "DataURL"), err)
			}
		}
		for _, asset := range append(append([]string{}, app.CoreAssets...), app.OfflineFallback) {
			if asset == "" {
				continue
			}
			if err := validateAsset(app.Domain, asset); err != nil {
				return fmt.Errorf("%s: %w", appField(app.Name, "CoreAssets"), err)
			}
		}
	}

	return validatePrefixes(c.Apps)
}

// validatePrefixes 保证任意两个 App 的缓存前缀互不为前缀，否则激活时的旧代回收会删除其它 App 的代。
func validatePrefixes(apps []AppConfig) error {
	for i := range apps {
		if apps[i].CachePrefix == "" {
			return newFieldError(appField(apps[i].Name, "CachePrefix"), "不能为空")
		}
		for j := range apps {
			if i == j {
				continue
			}
			if strings.HasPrefix(apps[j].CachePrefix, apps[i].CachePrefix) {
				return newFieldError(appField(apps[j].Name, "CachePrefix"),
					fmt.Sprintf("与 App[%s] 的前缀 %q 冲突", apps[i].Name, apps[i].CachePrefix))
			}
		}
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// validateAsset 拒绝无法解析或指向其它站点的核心资源。
func validateAsset(domain, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("资源地址无效 %q: %w", raw, err)
	}
	if parsed.Host != "" && !strings.EqualFold(parsed.Host, domain) {
		return fmt.Errorf("资源 %q 不属于 %s", raw, domain)
	}
	return nil
}
