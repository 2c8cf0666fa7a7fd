package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/config"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://peg.local/index.html", nil)
	req.Host = "peg.local"
	req.Header.Set("Host", "peg.local")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s, hostHeader=%s)", resp.StatusCode, string(body), resp.Header.Get("X-Peg-Hub-Host"))
	}

	if app.storage.routeName != "peg" {
		t.Fatalf("expected peg route, got %s", app.storage.routeName)
	}

	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterReturns404WhenHostUnknown(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://unknown.local/index.html", nil)
	req.Host = "unknown.local"
	req.Header.Set("Host", "unknown.local")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"host_unmapped"`)) {
		t.Fatalf("expected host_unmapped error, got %s", string(body))
	}
}

type testApp struct {
	*fiber.App
	storage  *proxyRecorder
	registry *AppRegistry
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	cfg := testConfig(port)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry, err := NewAppRegistry(cfg, logger)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(registry.Close)
	if _, ok := registry.Lookup("peg.local"); !ok {
		t.Fatalf("registry lookup failed for peg")
	}

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, storage: recorder, registry: registry}
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:  port,
			StoragePath: "./data",
		},
		Apps: []config.AppConfig{
			{
				Name:         "peg",
				Domain:       "peg.local",
				Upstream:     "https://peg-origin.example.com",
				Scheme:       "https",
				Version:      "v1",
				CachePrefix:  "peg-",
				Variant:      "shell",
				DataSuffixes: []string{"data.json"},
				CoreAssets:   []string{"./", "./index.html"},
			},
		},
	}
}

type proxyRecorder struct {
	lastRoute *AppRoute
	routeName string
}

func (p *proxyRecorder) Handle(c fiber.Ctx, route *AppRoute) error {
	p.lastRoute = route
	p.routeName = route.Config.Name
	return c.SendStatus(fiber.StatusNoContent)
}

func TestRouterMatchesHostWithPort(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://peg.local:5000/app.js", nil)
	req.Host = "PEG.local:5000"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent || app.storage.routeName != "peg" {
		t.Fatalf("expected peg route for host with port, got %d", resp.StatusCode)
	}
}

func TestRouterSkipsHostLookupForDiagnostics(t *testing.T) {
	app := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "http://unknown.local/-/ping", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("diagnostics should bypass host lookup, got %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("diagnostics responses still carry a request id")
	}
}
