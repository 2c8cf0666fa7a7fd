package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/cache"
	"github.com/any-hub/peg-hub/internal/config"
	"github.com/any-hub/peg-hub/internal/server"
	"github.com/any-hub/peg-hub/internal/worker"
)

const testDocument = `{"datasets":{
	"primary":{"label":"Current","products":[{"name":"X","trigger":{"1.5":{"A":5,"R":6}}}]},
	"legacy":{"label":"Legacy","products":[{"name":"Y"}]}
}}`

type routeFixture struct {
	t        *testing.T
	origin   *httptest.Server
	app      *fiber.App
	cfg      *config.Config
	registry *server.AppRegistry
	deployer *server.Deployer
	broken   atomic.Bool
	updates  atomic.Int32

	mu    sync.Mutex
	paths map[string]int
}

func newRouteFixture(t *testing.T, mutate ...func(*config.AppConfig)) *routeFixture {
	t.Helper()
	f := &routeFixture{t: t, paths: map[string]int{}}

	r := chi.NewRouter()
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.paths[req.URL.Path]++
		f.mu.Unlock()
		if f.broken.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if strings.HasSuffix(req.URL.Path, ".json") {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, testDocument)
			return
		}
		io.WriteString(w, "origin "+req.URL.Path)
	})
	f.origin = httptest.NewServer(r)
	t.Cleanup(f.origin.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f.cfg = &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000, StoragePath: t.TempDir()},
		Apps: []config.AppConfig{{
			Name:         "peg",
			Domain:       "peg.local",
			Upstream:     f.origin.URL,
			Scheme:       "https",
			Version:      "v1",
			CachePrefix:  "peg-",
			Variant:      "swr",
			Activation:   "wait",
			DataSuffixes: []string{"data.json"},
			CoreAssets:   []string{"./", "./index.html", "./data.json"},
		}},
	}

	for _, fn := range mutate {
		fn(&f.cfg.Apps[0])
	}

	store, err := cache.NewFileStore(f.cfg.Global.StoragePath)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	f.registry, err = server.NewAppRegistry(f.cfg, logger)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(f.registry.Close)
	f.deployer, err = server.NewDeployer(store, f.origin.Client(), f.cfg.Global, logger)
	if err != nil {
		t.Fatalf("deployer: %v", err)
	}

	f.app = fiber.New()
	RegisterVariantRoutes(f.app, f.registry)
	RegisterMetricsRoute(f.app)
	RegisterWorkerRoutes(f.app, WorkerRouteOptions{
		Registry: f.registry,
		Updater:  f.update,
		Client:   f.origin.Client(),
		Logger:   logger,
	})
	return f
}

// update 模拟发布新版本：提升 Version 后重新部署。
func (f *routeFixture) update(ctx context.Context) error {
	n := f.updates.Add(1)
	next := *f.cfg
	next.Apps = append([]config.AppConfig(nil), f.cfg.Apps...)
	next.Apps[0].Version = fmt.Sprintf("v%d", n+1)
	if err := f.deployer.Redeploy(ctx, f.registry, &next); err != nil {
		return err
	}
	f.cfg = &next
	return nil
}

func (f *routeFixture) hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paths[path]
}

func (f *routeFixture) deploy() {
	f.t.Helper()
	if err := f.deployer.DeployAll(context.Background(), f.registry.List()); err != nil {
		f.t.Fatalf("deploy: %v", err)
	}
}

func (f *routeFixture) do(method, path, body string) (*http.Response, []byte) {
	f.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req)
	if err != nil {
		f.t.Fatalf("app.Test %s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func decodeJSON(t *testing.T, raw []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", string(raw), err)
	}
}

func TestVariantRoutesListBindings(t *testing.T) {
	f := newRouteFixture(t)

	resp, raw := f.do(http.MethodGet, "/-/variants", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var payload struct {
		Variants []variantPayload    `json:"variants"`
		Apps     []appBindingPayload `json:"apps"`
	}
	decodeJSON(t, raw, &payload)

	keys := make(map[string]bool)
	for _, v := range payload.Variants {
		keys[v.Key] = true
	}
	for _, want := range []string{"reset", "shell", "swr"} {
		if !keys[want] {
			t.Fatalf("expected variant %s in %v", want, keys)
		}
	}
	if len(payload.Apps) != 1 || payload.Apps[0].App != "peg" {
		t.Fatalf("unexpected bindings %+v", payload.Apps)
	}
	if payload.Apps[0].Activation != "wait" || payload.Apps[0].Variant != "swr" {
		t.Fatalf("unexpected binding %+v", payload.Apps[0])
	}

	resp, _ = f.do(http.MethodGet, "/-/variants/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown variant, got %d", resp.StatusCode)
	}
	resp, raw = f.do(http.MethodGet, "/-/variants/SHELL", "")
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(raw), `"key":"shell"`) {
		t.Fatalf("expected shell variant, got %d %s", resp.StatusCode, string(raw))
	}
}

func TestMetricsRouteExposesPrometheusText(t *testing.T) {
	f := newRouteFixture(t)
	f.deploy()

	resp, raw := f.do(http.MethodGet, "/-/metrics", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), "go_goroutines") {
		t.Fatalf("expected default collectors in output")
	}
}

func TestWorkerStatusRoutes(t *testing.T) {
	f := newRouteFixture(t)
	f.deploy()

	resp, raw := f.do(http.MethodGet, "/-/workers/peg", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var status worker.Status
	decodeJSON(t, raw, &status)
	if status.Active == nil || status.Active.Version != "v1" {
		t.Fatalf("expected active v1, got %+v", status.Active)
	}

	resp, raw = f.do(http.MethodGet, "/-/workers", "")
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(raw), `"app":"peg"`) {
		t.Fatalf("unexpected list %d %s", resp.StatusCode, string(raw))
	}

	resp, raw = f.do(http.MethodGet, "/-/workers/nope", "")
	if resp.StatusCode != fiber.StatusNotFound || !strings.Contains(string(raw), "app_not_found") {
		t.Fatalf("expected app_not_found, got %d %s", resp.StatusCode, string(raw))
	}
}

func TestWorkerUpdateAndSkipWaitingFlow(t *testing.T) {
	f := newRouteFixture(t)
	f.deploy()

	resp, raw := f.do(http.MethodPost, "/-/workers/peg/clients", "")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("connect failed: %d %s", resp.StatusCode, string(raw))
	}
	var client worker.ClientStatus
	decodeJSON(t, raw, &client)
	if client.ID == "" || client.Controller != "v1" {
		t.Fatalf("unexpected client %+v", client)
	}

	resp, raw = f.do(http.MethodPost, "/-/workers/peg/update", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("update failed: %d %s", resp.StatusCode, string(raw))
	}
	var status worker.Status
	decodeJSON(t, raw, &status)
	if status.Waiting == nil || status.Waiting.Version != "v2" {
		t.Fatalf("expected v2 waiting, got %+v", status.Waiting)
	}

	eventsPath := "/-/workers/peg/clients/" + client.ID + "/events"
	resp, raw = f.do(http.MethodGet, eventsPath, "")
	var events eventsPayload
	decodeJSON(t, raw, &events)
	if len(events.Events) != 1 || events.Events[0].Type != worker.EventStateChange {
		t.Fatalf("expected one statechange, got %+v", events.Events)
	}

	resp, raw = f.do(http.MethodPost, "/-/workers/peg/message", `{"type":"SKIP_WAITING"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("message failed: %d %s", resp.StatusCode, string(raw))
	}
	decodeJSON(t, raw, &status)
	if status.Active == nil || status.Active.Version != "v2" || status.Waiting != nil {
		t.Fatalf("expected v2 active, got %+v", status)
	}

	resp, raw = f.do(http.MethodGet, eventsPath+"?wait=50ms", "")
	events = eventsPayload{}
	decodeJSON(t, raw, &events)
	if len(events.Events) != 1 || events.Events[0].Type != worker.EventControllerChange {
		t.Fatalf("expected one controllerchange, got %+v", events.Events)
	}

	resp, _ = f.do(http.MethodDelete, "/-/workers/peg/clients/"+client.ID, "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = f.do(http.MethodGet, eventsPath, "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 after disconnect, got %d", resp.StatusCode)
	}
}

func TestWorkerMessageRejectsInvalidBody(t *testing.T) {
	f := newRouteFixture(t)
	f.deploy()

	resp, raw := f.do(http.MethodPost, "/-/workers/peg/message", `{"kind":"x"}`)
	if resp.StatusCode != fiber.StatusBadRequest || !strings.Contains(string(raw), "invalid_message") {
		t.Fatalf("expected invalid_message, got %d %s", resp.StatusCode, string(raw))
	}
}

func TestWorkerUpdateFailureKeepsCurrentVersion(t *testing.T) {
	f := newRouteFixture(t)
	f.deploy()
	f.broken.Store(true)

	resp, raw := f.do(http.MethodPost, "/-/workers/peg/update", "")
	if resp.StatusCode != fiber.StatusBadGateway || !strings.Contains(string(raw), "update_failed") {
		t.Fatalf("expected update_failed, got %d %s", resp.StatusCode, string(raw))
	}

	_, raw = f.do(http.MethodGet, "/-/workers/peg", "")
	var status worker.Status
	decodeJSON(t, raw, &status)
	if status.Active == nil || status.Active.Version != "v1" {
		t.Fatalf("expected v1 to keep serving, got %+v", status.Active)
	}
}

func TestMatrixRouteBuildsProductTable(t *testing.T) {
	f := newRouteFixture(t)
	f.deploy()

	resp, raw := f.do(http.MethodGet, "/-/workers/peg/matrix?product=X", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status %d %s", resp.StatusCode, string(raw))
	}
	var payload struct {
		Dataset  string   `json:"dataset"`
		Datasets []string `json:"datasets"`
		Matrix   struct {
			Product string `json:"product"`
			Rows    []struct {
				Application string   `json:"application"`
				Cells       []string `json:"cells"`
			} `json:"rows"`
		} `json:"matrix"`
	}
	decodeJSON(t, raw, &payload)
	if payload.Matrix.Product != "X" || len(payload.Matrix.Rows) == 0 {
		t.Fatalf("unexpected matrix %+v", payload.Matrix)
	}
	row := payload.Matrix.Rows[0]
	if row.Application != "trigger" || row.Cells[0] != "5" || row.Cells[1] != "6" || row.Cells[2] != "—" {
		t.Fatalf("unexpected trigger row %+v", row)
	}
	if len(payload.Datasets) != 2 {
		t.Fatalf("expected two datasets, got %v", payload.Datasets)
	}

	resp, raw = f.do(http.MethodGet, "/-/workers/peg/matrix?product=Z", "")
	if resp.StatusCode != fiber.StatusNotFound || !strings.Contains(string(raw), "product_not_found") {
		t.Fatalf("expected product_not_found, got %d %s", resp.StatusCode, string(raw))
	}
	resp, _ = f.do(http.MethodGet, "/-/workers/peg/matrix?product=X&dataset=nope", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown dataset, got %d", resp.StatusCode)
	}
	resp, _ = f.do(http.MethodGet, "/-/workers/peg/matrix", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 without product, got %d", resp.StatusCode)
	}

	_, raw = f.do(http.MethodGet, "/-/workers/peg", "")
	var status worker.Status
	decodeJSON(t, raw, &status)
	if len(status.Clients) != 0 {
		t.Fatalf("matrix sessions must disconnect, got %+v", status.Clients)
	}
}

func TestMatrixRouteReportsUnableToLoad(t *testing.T) {
	f := newRouteFixture(t)
	f.broken.Store(true)

	resp, raw := f.do(http.MethodGet, "/-/workers/peg/matrix?product=X", "")
	if resp.StatusCode != fiber.StatusBadGateway || !strings.Contains(string(raw), "unable_to_load") {
		t.Fatalf("expected unable_to_load, got %d %s", resp.StatusCode, string(raw))
	}
}

func TestMatrixRouteIgnoresBareExtensionSuffix(t *testing.T) {
	f := newRouteFixture(t, func(app *config.AppConfig) {
		app.DataSuffixes = []string{".json"}
	})
	f.deploy()

	resp, raw := f.do(http.MethodGet, "/-/workers/peg/matrix?product=X", "")
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(raw), `"product":"X"`) {
		t.Fatalf("expected matrix from the default data document, got %d %s", resp.StatusCode, string(raw))
	}
}

func TestMatrixRouteUsesConfiguredDataURL(t *testing.T) {
	f := newRouteFixture(t, func(app *config.AppConfig) {
		app.DataURL = "./api/catalog.json"
		app.DataSuffixes = []string{".json"}
	})
	f.deploy()

	resp, raw := f.do(http.MethodGet, "/-/workers/peg/matrix?product=X", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status %d %s", resp.StatusCode, string(raw))
	}
	if f.hits("/api/catalog.json") == 0 {
		t.Fatalf("configured data url should be requested")
	}
}
