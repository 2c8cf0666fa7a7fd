package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/peg-hub/internal/server"
	"github.com/any-hub/peg-hub/internal/variant"
)

// RegisterVariantRoutes 暴露 /-/variants 诊断接口，展示已注册 variant 与 App 的绑定关系。
func RegisterVariantRoutes(app *fiber.App, registry *server.AppRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/variants", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"variants": encodeVariants(variant.List()),
			"apps":     encodeAppBindings(registry.List()),
		})
	})

	app.Get("/-/variants/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		meta, ok := variant.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "variant_not_found"})
		}
		return c.JSON(encodeVariant(meta))
	})
}

type variantPayload struct {
	Key             string            `json:"key"`
	Description     string            `json:"description"`
	Mode            string            `json:"mode"`
	Strategies      map[string]string `json:"strategies"`
	OfflineFallback bool              `json:"offline_fallback"`
	Activation      string            `json:"activation"`
}

type appBindingPayload struct {
	App        string            `json:"app"`
	Domain     string            `json:"domain"`
	Version    string            `json:"version"`
	Variant    string            `json:"variant"`
	Strategies map[string]string `json:"strategies"`
	Activation string            `json:"activation"`
	Port       int               `json:"port"`
}

func encodeVariants(metas []variant.Metadata) []variantPayload {
	if len(metas) == 0 {
		return nil
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Key < metas[j].Key
	})
	result := make([]variantPayload, 0, len(metas))
	for _, meta := range metas {
		result = append(result, encodeVariant(meta))
	}
	return result
}

func encodeVariant(meta variant.Metadata) variantPayload {
	mode := meta.Mode
	if mode == "" {
		mode = variant.ModeServe
	}
	return variantPayload{
		Key:             meta.Key,
		Description:     meta.Description,
		Mode:            string(mode),
		Strategies:      encodeStrategies(meta.Strategies),
		OfflineFallback: meta.OfflineFallback,
		Activation:      string(meta.Activation),
	}
}

func encodeAppBindings(routes []*server.AppRoute) []appBindingPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]appBindingPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, appBindingPayload{
			App:        route.Config.Name,
			Domain:     route.Config.Domain,
			Version:    route.Config.Version,
			Variant:    route.Profile.Variant,
			Strategies: encodeStrategies(route.Profile.Strategies),
			Activation: string(route.Profile.Activation),
			Port:       route.ListenPort,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].App < result[j].App
	})
	return result
}

func encodeStrategies(strategies map[variant.Class]variant.Strategy) map[string]string {
	out := make(map[string]string, len(strategies))
	for class, strategy := range strategies {
		out[string(class)] = string(strategy)
	}
	return out
}
