package variant

// Class 是请求的资源类别，由 worker 分类器给出。
type Class string

const (
	ClassCoreAsset  Class = "core-asset"
	ClassSameOrigin Class = "same-origin"
	ClassData       Class = "data"
	ClassOther      Class = "other"
)

// Strategy 描述某类资源的缓存策略。
type Strategy string

const (
	StrategyNetworkFirst         Strategy = "network-first"
	StrategyCacheFirst           Strategy = "cache-first"
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
	StrategyPassThrough          Strategy = "pass-through"
)

// Mode 区分正常服务与 kill switch。
type Mode string

const (
	ModeServe Mode = "serve"
	ModeReset Mode = "reset"
)

// Activation 描述新版本安装完成后的激活时机。
type Activation string

const (
	// ActivationImmediate 安装完成即激活（skipWaiting）。
	ActivationImmediate Activation = "immediate"
	// ActivationWait 进入 waiting，等待客户端发送 SKIP_WAITING。
	ActivationWait Activation = "wait"
)

// Metadata 记录一个 variant 的静态信息，供配置校验和诊断端使用。
type Metadata struct {
	Key             string
	Description     string
	Mode            Mode
	Strategies      map[Class]Strategy
	OfflineFallback bool
	Activation      Activation
}

// DefaultVariantKey 返回未显式配置时使用的 variant。
func DefaultVariantKey() string {
	return defaultVariantKey
}

// ResetVariantKey 返回 kill switch variant 的键值。
func ResetVariantKey() string {
	return resetVariantKey
}

// ValidStrategy 判断字符串是否为已知策略。
func ValidStrategy(value string) bool {
	switch Strategy(value) {
	case StrategyNetworkFirst, StrategyCacheFirst, StrategyStaleWhileRevalidate, StrategyPassThrough:
		return true
	}
	return false
}

// ValidActivation 判断字符串是否为已知激活策略。
func ValidActivation(value string) bool {
	switch Activation(value) {
	case ActivationImmediate, ActivationWait:
		return true
	}
	return false
}
