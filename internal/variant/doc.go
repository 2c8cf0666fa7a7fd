// Package variant 聚合缓存 worker 的部署形态（variant），并提供统一的注册入口。
//
// 每个 variant 描述一组“资源类别 -> 缓存策略”映射、激活策略以及运行模式：
//   1. 在 internal/variant/<key>/ 目录下于 init() 中调用 MustRegister；
//   2. 配置中的 [[App]].Variant 按键引用 variant，并可通过 AssetStrategy/DataStrategy 覆盖；
//   3. reset 模式的 variant 作为“kill switch”，激活后清空所有缓存代并注销注册。
package variant
