// Package reset 注册 kill switch variant：激活后删除全部缓存代并注销注册，
// 所有请求直接走网络。
package reset

import "github.com/any-hub/peg-hub/internal/variant"

func init() {
	variant.MustRegister(variant.Metadata{
		Key:         "reset",
		Description: "Kill switch: drop every cache generation, unregister, reload clients",
		Mode:        variant.ModeReset,
		Strategies: map[variant.Class]variant.Strategy{
			variant.ClassCoreAsset:  variant.StrategyPassThrough,
			variant.ClassSameOrigin: variant.StrategyPassThrough,
			variant.ClassData:       variant.StrategyPassThrough,
		},
		Activation: variant.ActivationImmediate,
	})
}
