package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/peg-hub/internal/variant"
)

const (
	defaultDataSuffix     = "data.json"
	defaultRedisNamespace = "peg-hub"
	defaultMaxBackground  = 32
)

// Load 读取并解析 TOML 配置文件，同时注入默认值、合并资源清单并执行校验。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return decode(v, filepath.Dir(path))
}

// decode 将已读取的 viper 实例转换为 Config，Load 与 Watch 共用。
func decode(v *viper.Viper, baseDir string) (*Config, error) {
	if err := rejectAppLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Apps {
		if err := applyAppDefaults(&cfg.Apps[i], baseDir); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StoreBackend", "fs")
	v.SetDefault("RedisNamespace", defaultRedisNamespace)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxBackgroundRefresh", defaultMaxBackground)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StoreBackend = strings.ToLower(strings.TrimSpace(g.StoreBackend))
	if g.StoreBackend == "" {
		g.StoreBackend = "fs"
	}
	if g.RedisNamespace == "" {
		g.RedisNamespace = defaultRedisNamespace
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxBackgroundRefresh == 0 {
		g.MaxBackgroundRefresh = defaultMaxBackground
	}
}

// applyAppDefaults 填充默认值并合并资源清单；baseDir 用于解析相对清单路径。
func applyAppDefaults(a *AppConfig, baseDir string) error {
	a.Name = strings.TrimSpace(a.Name)
	a.Domain = strings.ToLower(strings.TrimSpace(a.Domain))
	a.Version = strings.TrimSpace(a.Version)
	a.Scheme = strings.ToLower(strings.TrimSpace(a.Scheme))
	if a.Scheme == "" {
		a.Scheme = "https"
	}
	if a.CachePrefix == "" && a.Name != "" {
		a.CachePrefix = a.Name + "-"
	}

	a.Variant = strings.ToLower(strings.TrimSpace(a.Variant))
	if a.Variant == "" {
		a.Variant = variant.DefaultVariantKey()
	}
	a.AssetStrategy = normalizeFlag(a.AssetStrategy)
	a.DataStrategy = normalizeFlag(a.DataStrategy)
	a.Activation = normalizeFlag(a.Activation)

	a.DataURL = strings.TrimSpace(a.DataURL)
	if len(a.DataSuffixes) == 0 {
		a.DataSuffixes = []string{defaultDataSuffix}
	}

	if a.AssetManifest != "" {
		path := a.AssetManifest
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		manifest, err := LoadManifest(path)
		if err != nil {
			return newFieldError(appField(a.Name, "AssetManifest"), err.Error())
		}
		if a.Version == "" {
			a.Version = manifest.Version
		}
		a.CoreAssets = append(a.CoreAssets, manifest.Assets...)
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectAppLevelPorts 拒绝 App 级 Port 字段，所有 App 共用全局 ListenPort。
func rejectAppLevelPorts(v *viper.Viper) error {
	raw := v.Get("App")
	apps, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range apps {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := m["Port"]; exists {
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := m["Name"].(string); ok && rawName != "" {
				name = rawName
			}
			return newFieldError(appField(name, "Port"), "不支持 App 级端口，请使用全局 ListenPort")
		}
	}

	return nil
}
