package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/logging"
	"github.com/any-hub/peg-hub/internal/server"
	"github.com/any-hub/peg-hub/internal/worker"
)

const (
	headerCache   = "X-Peg-Hub-Cache"
	headerVersion = "X-Peg-Hub-Version"
	headerRequest = "X-Request-ID"

	sourceWorker   = "worker"
	sourceUpstream = "upstream"
	sourceError    = "error"
)

// Handler 把请求交给 App 的 worker 注册：worker 给出响应时直接写回快照，
// 不处理（透传类或无控制者）时直接流式转发上游。
type Handler struct {
	client *http.Client
	logger *logrus.Logger
}

// NewHandler constructs a proxy handler with the shared upstream HTTP client.
func NewHandler(client *http.Client, logger *logrus.Logger) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{client: client, logger: logger}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.AppRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := buildWorkerRequest(c, route)
	resp, err := route.Registration.Fetch(ctx, req)
	switch {
	case err == nil:
		return h.serveWorker(c, route, resp, requestID, started)
	case errors.Is(err, worker.ErrNotHandled), errors.Is(err, worker.ErrNoController):
		return h.passThrough(ctx, c, route, req, requestID, started)
	default:
		proxyRequestsTotal.WithLabelValues(route.Config.Name, sourceError).Inc()
		h.logResult(route, req.URL.String(), requestID, "", 0, started, err)
		setRequestID(c, requestID)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
}

func (h *Handler) serveWorker(c fiber.Ctx, route *server.AppRoute, resp *worker.Response, requestID string, started time.Time) error {
	snap := resp.Snapshot
	copyResponseHeaders(c, snap.Header)
	c.Response().Header.Del(fiber.HeaderContentLength)
	c.Set(headerCache, string(resp.Outcome))
	c.Set(headerVersion, resp.Version)
	setRequestID(c, requestID)
	c.Status(snap.Status)

	proxyRequestsTotal.WithLabelValues(route.Config.Name, sourceWorker).Inc()
	h.logResult(route, "", requestID, resp.Outcome, snap.Status, started, nil)
	return c.Send(snap.Body)
}

// passThrough 不经过任何缓存，直接把请求转发到上游并流式写回。
func (h *Handler) passThrough(ctx context.Context, c fiber.Ctx, route *server.AppRoute, req *worker.Request, requestID string, started time.Time) error {
	upstreamURL := worker.MapUpstream(route.ScopeURL, route.UpstreamURL, req.URL)
	upstreamReq, err := h.buildUpstreamRequest(ctx, c, route, upstreamURL)
	if err != nil {
		proxyRequestsTotal.WithLabelValues(route.Config.Name, sourceError).Inc()
		h.logResult(route, upstreamURL.String(), requestID, worker.OutcomeBypass, 0, started, err)
		setRequestID(c, requestID)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		proxyRequestsTotal.WithLabelValues(route.Config.Name, sourceError).Inc()
		h.logResult(route, upstreamURL.String(), requestID, worker.OutcomeBypass, 0, started, err)
		setRequestID(c, requestID)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(headerCache, string(worker.OutcomeBypass))
	setRequestID(c, requestID)
	c.Status(resp.StatusCode)
	proxyRequestsTotal.WithLabelValues(route.Config.Name, sourceUpstream).Inc()

	if c.Method() == http.MethodHead {
		h.logResult(route, upstreamURL.String(), requestID, worker.OutcomeBypass, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, upstreamURL.String(), requestID, worker.OutcomeBypass, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) buildUpstreamRequest(ctx context.Context, c fiber.Ctx, route *server.AppRoute, upstream *url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("Host", upstream.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", route.ScopeURL.Scheme)
	return req, nil
}

// buildWorkerRequest 把 Fiber 请求还原为 scope 下的绝对地址，供 worker 分类与建键。
func buildWorkerRequest(c fiber.Ctx, route *server.AppRoute) *worker.Request {
	uri := c.Request().URI()
	target := &url.URL{
		Scheme:   route.ScopeURL.Scheme,
		Host:     route.ScopeURL.Host,
		Path:     normalizeRequestPath(string(uri.Path())),
		RawQuery: string(uri.QueryString()),
	}

	header := http.Header{}
	server.CopyHeaders(header, fiberHeadersAsHTTP(c))
	header.Del("Host")

	return &worker.Request{
		Method:  c.Method(),
		URL:     target,
		Header:  header,
		NoStore: requestsNoStore(header),
	}
}

// requestsNoStore 识别客户端要求绕过缓存的请求（Cache-Control: no-store / no-cache）。
func requestsNoStore(header http.Header) bool {
	for _, value := range header.Values("Cache-Control") {
		lower := strings.ToLower(value)
		if strings.Contains(lower, "no-store") || strings.Contains(lower, "no-cache") {
			return true
		}
	}
	return false
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.AppRoute,
	upstream string,
	requestID string,
	outcome worker.Outcome,
	status int,
	started time.Time,
	err error,
) {
	cacheHit := outcome == worker.OutcomeCache || outcome == worker.OutcomeStale ||
		outcome == worker.OutcomeFallback || outcome == worker.OutcomeOffline
	version := ""
	if active := route.Registration.Active(); active != nil {
		version = active.Version()
	}
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		version,
		route.Profile.Variant,
		string(outcome),
		cacheHit,
	)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if upstream != "" {
		fields["upstream"] = upstream
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func setRequestID(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set(headerRequest, requestID)
	}
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
