package config

import (
	"fmt"

	"github.com/any-hub/peg-hub/internal/variant"
)

// AppRuntime 将 App 配置与 variant 元数据合并，方便运行时快速取用策略。
type AppRuntime struct {
	Config  AppConfig
	Variant variant.Metadata
	Profile variant.Profile
}

// BuildAppRuntime 根据 App 配置解析 variant 并应用覆盖项。
func BuildAppRuntime(cfg AppConfig) (AppRuntime, error) {
	meta, ok := variant.Resolve(cfg.Variant)
	if !ok {
		return AppRuntime{}, fmt.Errorf("%s: 未注册 variant: %s", appField(cfg.Name, "Variant"), cfg.Variant)
	}
	return AppRuntime{
		Config:  cfg,
		Variant: meta,
		Profile: variant.ResolveProfile(meta, cfg.VariantOptions()),
	}, nil
}
