package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// WorkerFields 提供 app/版本/variant 字段，供 worker 生命周期日志复用。
func WorkerFields(app, version, variantKey string) logrus.Fields {
	return logrus.Fields{
		"app":     app,
		"version": version,
		"variant": variantKey,
	}
}

// RequestFields 提供 app/domain/来源字段，供代理请求日志复用。
func RequestFields(app, domain, version, variantKey, outcome string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"app":       app,
		"domain":    domain,
		"version":   version,
		"variant":   variantKey,
		"outcome":   outcome,
		"cache_hit": cacheHit,
	}
}
