// Package swr 注册 stale-while-revalidate variant：先返回缓存，再后台刷新。
package swr

import "github.com/any-hub/peg-hub/internal/variant"

func init() {
	variant.MustRegister(variant.Metadata{
		Key:         "swr",
		Description: "Stale-while-revalidate assets, network-first data with offline fallback",
		Mode:        variant.ModeServe,
		Strategies: map[variant.Class]variant.Strategy{
			variant.ClassCoreAsset:  variant.StrategyStaleWhileRevalidate,
			variant.ClassSameOrigin: variant.StrategyStaleWhileRevalidate,
			variant.ClassData:       variant.StrategyNetworkFirst,
		},
		OfflineFallback: true,
		Activation:      variant.ActivationWait,
	})
}
