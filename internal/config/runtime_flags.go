package config

import (
	"strings"

	"github.com/any-hub/peg-hub/internal/variant"
)

// normalizeFlag 统一覆盖项的大小写与空白。
func normalizeFlag(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// validStrategyOverride 判断策略覆盖项是否合法；空值表示沿用 variant 默认。
func validStrategyOverride(raw string) bool {
	return raw == "" || variant.ValidStrategy(raw)
}

func validActivationOverride(raw string) bool {
	return raw == "" || variant.ValidActivation(raw)
}
