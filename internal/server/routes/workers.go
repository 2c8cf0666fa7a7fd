package routes

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/dataset"
	"github.com/any-hub/peg-hub/internal/page"
	"github.com/any-hub/peg-hub/internal/server"
	"github.com/any-hub/peg-hub/internal/worker"
)

const maxEventWait = 30 * time.Second

// WorkerRouteOptions 描述 /-/workers 诊断端的依赖。
type WorkerRouteOptions struct {
	Registry *server.AppRegistry
	// Updater 对应“检查更新”：重新读取配置并部署变化的 App。
	Updater func(ctx context.Context) error
	// Client 供矩阵页面会话在没有控制者时直接访问上游。
	Client *http.Client
	Logger *logrus.Logger
}

// RegisterWorkerRoutes 暴露 worker 注册的诊断与控制接口：
// 状态快照、SKIP_WAITING 消息、检查更新、客户端连接与事件拉取、产品矩阵。
func RegisterWorkerRoutes(app *fiber.App, opts WorkerRouteOptions) {
	if app == nil || opts.Registry == nil {
		return
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	h := &workerRoutes{opts: opts}

	app.Get("/-/workers", h.list)
	app.Get("/-/workers/:app", h.status)
	app.Post("/-/workers/:app/message", h.message)
	app.Post("/-/workers/:app/update", h.update)
	app.Post("/-/workers/:app/clients", h.connect)
	app.Get("/-/workers/:app/clients/:id/events", h.events)
	app.Delete("/-/workers/:app/clients/:id", h.disconnect)
	app.Get("/-/workers/:app/matrix", h.matrix)
}

type workerRoutes struct {
	opts WorkerRouteOptions
}

type eventsPayload struct {
	Events []worker.Event `json:"events"`
	Closed bool           `json:"closed"`
}

func (h *workerRoutes) list(c fiber.Ctx) error {
	routes := h.opts.Registry.List()
	statuses := make([]worker.Status, 0, len(routes))
	for _, route := range routes {
		statuses = append(statuses, route.Registration.Snapshot())
	}
	return c.JSON(fiber.Map{"workers": statuses})
}

func (h *workerRoutes) status(c fiber.Ctx) error {
	route, ok := h.route(c)
	if !ok {
		return appNotFound(c)
	}
	return c.JSON(route.Registration.Snapshot())
}

func (h *workerRoutes) message(c fiber.Ctx) error {
	route, ok := h.route(c)
	if !ok {
		return appNotFound(c)
	}
	msg, err := worker.ParseMessage(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
	}
	if err := route.Registration.PostMessage(c.Context(), msg); err != nil {
		h.logFailure(route, "message", err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "message_failed"})
	}
	return c.JSON(route.Registration.Snapshot())
}

func (h *workerRoutes) update(c fiber.Ctx) error {
	route, ok := h.route(c)
	if !ok {
		return appNotFound(c)
	}
	if h.opts.Updater == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "updater_unavailable"})
	}
	if err := h.opts.Updater(c.Context()); err != nil {
		h.logFailure(route, "update", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "update_failed", "detail": err.Error()})
	}
	// 更新可能替换了路由，重新查找以返回最新状态。
	if refreshed, ok := h.opts.Registry.Route(route.Config.Name); ok {
		route = refreshed
	}
	return c.JSON(route.Registration.Snapshot())
}

func (h *workerRoutes) connect(c fiber.Ctx) error {
	route, ok := h.route(c)
	if !ok {
		return appNotFound(c)
	}
	client, err := route.Registration.Connect("")
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "registration_closed"})
	}
	return c.Status(fiber.StatusCreated).JSON(worker.ClientStatus{ID: client.ID(), Controller: client.Controller()})
}

// events 返回客户端已排队的事件；队列为空时最多等待 ?wait=<duration>。
func (h *workerRoutes) events(c fiber.Ctx) error {
	route, ok := h.route(c)
	if !ok {
		return appNotFound(c)
	}
	client, ok := route.Registration.Client(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "client_not_found"})
	}

	wait, _ := time.ParseDuration(c.Query("wait"))
	if wait > maxEventWait {
		wait = maxEventWait
	}
	payload := eventsPayload{Events: []worker.Event{}}

	ch := client.Events()
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case ev, open := <-ch:
			if !open {
				payload.Closed = true
				return c.JSON(payload)
			}
			payload.Events = append(payload.Events, ev)
		case <-timer.C:
			return c.JSON(payload)
		case <-c.Context().Done():
			return c.JSON(payload)
		}
	}
	for {
		select {
		case ev, open := <-ch:
			if !open {
				payload.Closed = true
				return c.JSON(payload)
			}
			payload.Events = append(payload.Events, ev)
		default:
			return c.JSON(payload)
		}
	}
}

func (h *workerRoutes) disconnect(c fiber.Ctx) error {
	route, ok := h.route(c)
	if !ok {
		return appNotFound(c)
	}
	if !route.Registration.Disconnect(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "client_not_found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// matrix 以一次页面会话加载数据文档并返回产品矩阵。
func (h *workerRoutes) matrix(c fiber.Ctx) error {
	route, ok := h.route(c)
	if !ok {
		return appNotFound(c)
	}
	product := strings.TrimSpace(c.Query("product"))
	if product == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "product_required"})
	}

	dataURL := route.Config.DataDocument()
	if dataURL == "" {
		dataURL = page.DefaultDataURL
	}
	ctrl, err := page.NewController(page.Options{
		Scope:        route.ScopeURL,
		DataURL:      dataURL,
		Registration: route.Registration,
		Fetcher:      worker.NewHTTPFetcher(h.opts.Client, route.ScopeURL, route.UpstreamURL),
		Logger:       h.opts.Logger,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "page_unavailable"})
	}
	defer ctrl.Close()
	if err := ctrl.Start(c.Context()); err != nil {
		h.logFailure(route, "matrix", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "session_unavailable"})
	}

	doc, err := ctrl.Init(c.Context())
	if err != nil {
		h.logFailure(route, "matrix", err)
		status := fiber.StatusBadGateway
		if !errors.Is(err, page.ErrUnableToLoad) {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(fiber.Map{"error": "unable_to_load"})
	}

	key := strings.TrimSpace(c.Query("dataset"))
	if key == "" {
		key = dataset.PrimaryKey
	}
	ds, ok := doc.Dataset(key)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "dataset_not_found"})
	}
	m, ok := ds.Matrix(product)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "product_not_found"})
	}
	return c.JSON(fiber.Map{
		"dataset":  key,
		"label":    ds.Label,
		"datasets": doc.Keys(),
		"matrix":   m,
	})
}

func (h *workerRoutes) route(c fiber.Ctx) (*server.AppRoute, bool) {
	return h.opts.Registry.Route(c.Params("app"))
}

func (h *workerRoutes) logFailure(route *server.AppRoute, action string, err error) {
	h.opts.Logger.WithFields(logrus.Fields{
		"action": action,
		"app":    route.Config.Name,
	}).WithError(err).Warn("worker_route_failed")
}

func appNotFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "app_not_found"})
}
