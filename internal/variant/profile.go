package variant

// Profile 是 variant 与 App 级覆盖合并后的最终策略，worker 只依赖该结构。
type Profile struct {
	Variant         string
	Mode            Mode
	Strategies      map[Class]Strategy
	OfflineFallback bool
	Activation      Activation
}

// Options 描述来自 [[App]] 配置的 override。
type Options struct {
	// AssetOverride 同时作用于 core-asset 与 same-origin。
	AssetOverride      Strategy
	DataOverride       Strategy
	ActivationOverride Activation
	// OfflineFallback 为 true 时强制开启离线兜底文档。
	OfflineFallback bool
}

// ResolveProfile 将 variant 的默认策略与 App 级覆盖合并。reset 模式忽略所有覆盖。
func ResolveProfile(meta Metadata, opts Options) Profile {
	profile := Profile{
		Variant:         meta.Key,
		Mode:            meta.Mode,
		Strategies:      make(map[Class]Strategy, 4),
		OfflineFallback: meta.OfflineFallback,
		Activation:      meta.Activation,
	}
	for class, strategy := range meta.Strategies {
		profile.Strategies[class] = strategy
	}

	if profile.Mode != ModeReset {
		if opts.AssetOverride != "" {
			profile.Strategies[ClassCoreAsset] = opts.AssetOverride
			profile.Strategies[ClassSameOrigin] = opts.AssetOverride
		}
		if opts.DataOverride != "" {
			profile.Strategies[ClassData] = opts.DataOverride
		}
		if opts.ActivationOverride != "" {
			profile.Activation = opts.ActivationOverride
		}
		if opts.OfflineFallback {
			profile.OfflineFallback = true
		}
	}
	return normalizeProfile(profile)
}

func normalizeProfile(profile Profile) Profile {
	if profile.Mode == "" {
		profile.Mode = ModeServe
	}
	if profile.Activation == "" {
		profile.Activation = ActivationImmediate
	}
	if profile.Mode == ModeReset {
		for _, class := range []Class{ClassCoreAsset, ClassSameOrigin, ClassData} {
			profile.Strategies[class] = StrategyPassThrough
		}
		profile.OfflineFallback = false
		profile.Activation = ActivationImmediate
	}
	if profile.Strategies[ClassCoreAsset] == "" {
		profile.Strategies[ClassCoreAsset] = StrategyCacheFirst
	}
	if profile.Strategies[ClassSameOrigin] == "" {
		profile.Strategies[ClassSameOrigin] = profile.Strategies[ClassCoreAsset]
	}
	if profile.Strategies[ClassData] == "" {
		profile.Strategies[ClassData] = StrategyNetworkFirst
	}
	profile.Strategies[ClassOther] = StrategyPassThrough
	return profile
}

// StrategyFor 返回资源类别对应的策略，未知类别一律直通。
func (p Profile) StrategyFor(class Class) Strategy {
	if strategy, ok := p.Strategies[class]; ok {
		return strategy
	}
	return StrategyPassThrough
}

// Reset 表示该 profile 是 kill switch。
func (p Profile) Reset() bool {
	return p.Mode == ModeReset
}
