package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Watch 监听配置文件变化；每次变化重新解析，只有通过校验的配置才会交给 onChange。
// 解析失败时保留当前配置并记录 config_reload_failed。
func Watch(path string, logger *logrus.Logger, onChange func(*Config)) error {
	if path == "" {
		path = "config.toml"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	baseDir := filepath.Dir(path)
	v.OnConfigChange(func(ev fsnotify.Event) {
		fields := logrus.Fields{"action": "config_reload", "configPath": path, "op": ev.Op.String()}
		cfg, err := decode(v, baseDir)
		if err != nil {
			logger.WithFields(fields).WithError(err).Warn("config_reload_failed")
			return
		}
		logger.WithFields(fields).Info("config_reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
