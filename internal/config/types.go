package config

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/peg-hub/internal/cache"
	"github.com/any-hub/peg-hub/internal/variant"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 App 共享同一份参数。
type GlobalConfig struct {
	ListenPort           int      `mapstructure:"ListenPort"`
	LogLevel             string   `mapstructure:"LogLevel"`
	LogFilePath          string   `mapstructure:"LogFilePath"`
	LogMaxSize           int      `mapstructure:"LogMaxSize"`
	LogMaxBackups        int      `mapstructure:"LogMaxBackups"`
	LogCompress          bool     `mapstructure:"LogCompress"`
	StoragePath          string   `mapstructure:"StoragePath"`
	StoreBackend         string   `mapstructure:"StoreBackend"`
	RedisAddr            string   `mapstructure:"RedisAddr"`
	RedisDB              int      `mapstructure:"RedisDB"`
	RedisNamespace       string   `mapstructure:"RedisNamespace"`
	UpstreamTimeout      Duration `mapstructure:"UpstreamTimeout"`
	MaxBackgroundRefresh int      `mapstructure:"MaxBackgroundRefresh"`
}

// StoreOptions 把全局存储配置转换为 cache.NewStore 的参数。
func (g GlobalConfig) StoreOptions() cache.Options {
	return cache.Options{
		Backend:        cache.Backend(g.StoreBackend),
		StoragePath:    g.StoragePath,
		RedisAddr:      g.RedisAddr,
		RedisDB:        g.RedisDB,
		RedisNamespace: g.RedisNamespace,
	}
}

// AppConfig 描述一个被缓存 worker 接管的站点。
type AppConfig struct {
	Name            string   `mapstructure:"Name"`
	Domain          string   `mapstructure:"Domain"`
	Upstream        string   `mapstructure:"Upstream"`
	Scheme          string   `mapstructure:"Scheme"`
	Version         string   `mapstructure:"Version"`
	CachePrefix     string   `mapstructure:"CachePrefix"`
	Variant         string   `mapstructure:"Variant"`
	AssetStrategy   string   `mapstructure:"AssetStrategy"`
	DataStrategy    string   `mapstructure:"DataStrategy"`
	Activation      string   `mapstructure:"Activation"`
	DataSuffixes    []string `mapstructure:"DataSuffixes"`
	DataURL         string   `mapstructure:"DataURL"`
	CoreAssets      []string `mapstructure:"CoreAssets"`
	AssetManifest   string   `mapstructure:"AssetManifest"`
	OfflineFallback string   `mapstructure:"OfflineFallback"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Apps   []AppConfig  `mapstructure:"App"`
}

// ScopeURL 返回 App 对外的 scope，例如 https://peg.example/。
func (a AppConfig) ScopeURL() *url.URL {
	scheme := a.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: a.Domain, Path: "/"}
}

// DataDocument 返回页面加载的数据文档地址：优先 DataURL，其次第一个形如文件名的
// DataSuffixes 条目（".json" 这类纯扩展名不算），都没有时返回空串。
func (a AppConfig) DataDocument() string {
	if a.DataURL != "" {
		return a.DataURL
	}
	for _, suffix := range a.DataSuffixes {
		name := path.Base(strings.TrimSpace(suffix))
		if name == "." || name == "/" || strings.HasPrefix(name, ".") || !strings.Contains(name, ".") {
			continue
		}
		return strings.TrimPrefix(strings.TrimSpace(suffix), "/")
	}
	return ""
}

// UpstreamURL 解析上游地址（假定 Validate 已经通过）。
func (a AppConfig) UpstreamURL() *url.URL {
	u, err := url.Parse(a.Upstream)
	if err != nil {
		return nil
	}
	return u
}

// VariantOptions 将 App 层覆盖映射为 variant 的 profile 选项。
func (a AppConfig) VariantOptions() variant.Options {
	return variant.Options{
		AssetOverride:      variant.Strategy(a.AssetStrategy),
		DataOverride:       variant.Strategy(a.DataStrategy),
		ActivationOverride: variant.Activation(a.Activation),
		OfflineFallback:    a.OfflineFallback != "",
	}
}

// App 按名称查找 App 配置。
func (c *Config) App(name string) (AppConfig, bool) {
	for _, app := range c.Apps {
		if app.Name == name {
			return app, true
		}
	}
	return AppConfig{}, false
}

// ForceReset 把所有 App 切换到 reset variant，对应命令行 --reset。
func (c *Config) ForceReset() {
	for i := range c.Apps {
		c.Apps[i].Variant = variant.ResetVariantKey()
	}
}

// Variants 返回所有 App 的 variant 摘要，例如 peg:shell。
func Variants(apps []AppConfig) []string {
	if len(apps) == 0 {
		return nil
	}
	result := make([]string, len(apps))
	for i, app := range apps {
		result[i] = fmt.Sprintf("%s:%s", app.Name, app.Variant)
	}
	return result
}
