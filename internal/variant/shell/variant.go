// Package shell 注册默认的 app-shell variant：核心资源缓存优先，数据文档网络优先。
package shell

import "github.com/any-hub/peg-hub/internal/variant"

func init() {
	variant.MustRegister(variant.Metadata{
		Key:         "shell",
		Description: "App shell: cache-first assets, network-first data, immediate activation",
		Mode:        variant.ModeServe,
		Strategies: map[variant.Class]variant.Strategy{
			variant.ClassCoreAsset:  variant.StrategyCacheFirst,
			variant.ClassSameOrigin: variant.StrategyCacheFirst,
			variant.ClassData:       variant.StrategyNetworkFirst,
		},
		Activation: variant.ActivationImmediate,
	})
}
