package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/cache"
	"github.com/any-hub/peg-hub/internal/variant"
)

const testScope = "https://peg.example/"

var errOffline = errors.New("offline")

// origin 是基于 chi 的上游桩，记录每个路径的访问次数。
type origin struct {
	srv *httptest.Server

	mu      sync.Mutex
	files   map[string]string
	status  map[string]int
	hits    map[string]int
	headers map[string]http.Header
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{
		files: map[string]string{
			"/":                   "<html>shell</html>",
			"/index.html":         "<html>shell</html>",
			"/styles.css":         "body{}",
			"/app.js":             "console.log('v1')",
			"/manifest.json":      "{}",
			"/data.json":          `{"products":[]}`,
			"/icons/icon-192.png": "png192",
			"/offline.html":       "<html>offline</html>",
			"/extra/page.html":    "<html>extra</html>",
		},
		status:  map[string]int{},
		hits:    map[string]int{},
		headers: map[string]http.Header{},
	}
	r := chi.NewRouter()
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		o.mu.Lock()
		o.hits[req.URL.Path]++
		o.headers[req.URL.Path] = req.Header.Clone()
		body, ok := o.files[req.URL.Path]
		status := o.status[req.URL.Path]
		o.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			io.WriteString(w, "error")
			return
		}
		if !ok {
			http.NotFound(w, req)
			return
		}
		if req.URL.Path == "/" || req.URL.Path == "/index.html" || req.URL.Path == "/offline.html" {
			w.Header().Set("Content-Type", "text/html")
		}
		io.WriteString(w, body)
	})
	o.srv = httptest.NewServer(r)
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) set(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[path] = body
	delete(o.status, path)
}

func (o *origin) fail(path string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[path] = status
}

func (o *origin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) lastHeader(path string) http.Header {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.headers[path]
}

// switchableFetcher 可以模拟断网。
type switchableFetcher struct {
	next    Fetcher
	offline atomic.Bool
}

func (f *switchableFetcher) Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error) {
	if f.offline.Load() {
		return nil, errOffline
	}
	return f.next.Fetch(ctx, req)
}

type harness struct {
	t       *testing.T
	origin  *origin
	store   cache.Store
	fetcher *switchableFetcher
	logger  *logrus.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	o := newOrigin(t)
	store, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	upstream, _ := url.Parse(o.srv.URL)
	fetcher := &switchableFetcher{next: NewHTTPFetcher(o.srv.Client(), mustURL(t, testScope), upstream)}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &harness{t: t, origin: o, store: store, fetcher: fetcher, logger: logger}
}

func (h *harness) profile(key string, opts variant.Options) variant.Profile {
	meta := map[string]variant.Metadata{
		"shell": {
			Key: "shell",
			Strategies: map[variant.Class]variant.Strategy{
				variant.ClassCoreAsset:  variant.StrategyCacheFirst,
				variant.ClassSameOrigin: variant.StrategyCacheFirst,
				variant.ClassData:       variant.StrategyNetworkFirst,
			},
			Activation: variant.ActivationImmediate,
		},
		"swr": {
			Key: "swr",
			Strategies: map[variant.Class]variant.Strategy{
				variant.ClassCoreAsset:  variant.StrategyStaleWhileRevalidate,
				variant.ClassSameOrigin: variant.StrategyStaleWhileRevalidate,
				variant.ClassData:       variant.StrategyNetworkFirst,
			},
			OfflineFallback: true,
			Activation:      variant.ActivationWait,
		},
		"reset": {Key: "reset", Mode: variant.ModeReset},
	}[key]
	return variant.ResolveProfile(meta, opts)
}

func (h *harness) worker(version string, profile variant.Profile, mutate ...func(*Options)) *Worker {
	h.t.Helper()
	opts := Options{
		App:         "peg",
		Version:     version,
		CachePrefix: "peg-tool-",
		Scope:       mustURL(h.t, testScope),
		Profile:     profile,
		CoreAssets: []string{
			"./", "./index.html", "./styles.css", "./app.js",
			"./manifest.json", "./data.json", "./icons/icon-192.png",
		},
		Store:   h.store,
		Fetcher: h.fetcher,
		Logger:  h.logger,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	w, err := New(opts)
	if err != nil {
		h.t.Fatalf("new worker: %v", err)
	}
	return w
}

// activeWorker 安装并激活一个 worker。
func (h *harness) activeWorker(version string, profile variant.Profile, mutate ...func(*Options)) *Worker {
	h.t.Helper()
	w := h.worker(version, profile, mutate...)
	if err := w.Install(context.Background()); err != nil {
		h.t.Fatalf("install: %v", err)
	}
	if _, err := w.Activate(context.Background()); err != nil {
		h.t.Fatalf("activate: %v", err)
	}
	h.t.Cleanup(w.Close)
	return w
}

func (h *harness) generations() []string {
	h.t.Helper()
	names, err := h.store.Generations(context.Background())
	if err != nil {
		h.t.Fatalf("generations: %v", err)
	}
	return names
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func getRequest(t *testing.T, path string) *Request {
	t.Helper()
	req, err := NewRequest(http.MethodGet, "https://peg.example"+path)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func drain(c *Client) []Event {
	var events []Event
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

// gatedStore 在被 arm 后的第一次 Generations 调用处停住，直到 release 关闭。
type gatedStore struct {
	cache.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(next cache.Store) *gatedStore {
	return &gatedStore{Store: next, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedStore) Generations(ctx context.Context) ([]string, error) {
	if s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		<-s.release
	}
	return s.Store.Generations(ctx)
}

// failingPutStore 在 failPut 打开后拒绝所有写入。
type failingPutStore struct {
	cache.Store
	failPut atomic.Bool
}

func (s *failingPutStore) Put(ctx context.Context, generation string, key cache.Key, snap *cache.Snapshot) error {
	if s.failPut.Load() {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, generation, key, snap)
}
