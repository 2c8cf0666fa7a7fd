// Package page 实现页面侧控制器：连接注册、转发 SKIP_WAITING、在控制者变更时
// 每个会话周期只重载一次，并以网络优先的方式加载数据文档。
package page

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/cache"
	"github.com/any-hub/peg-hub/internal/dataset"
	"github.com/any-hub/peg-hub/internal/worker"
)

// DefaultDataURL 是相对 scope 的数据文档地址。
const DefaultDataURL = "data.json"

// ErrUnableToLoad 表示数据文档两次加载均失败。
var ErrUnableToLoad = errors.New("unable to load data")

// Registration 是控制器依赖的注册能力，*worker.Registration 满足该接口。
type Registration interface {
	Connect(id string) (*worker.Client, error)
	Disconnect(id string) bool
	Waiting() *worker.Worker
	PostMessage(ctx context.Context, msg worker.Message) error
	Fetch(ctx context.Context, req *worker.Request) (*worker.Response, error)
}

// Options 配置一个页面会话。
type Options struct {
	Scope        *url.URL
	DataURL      string
	Registration Registration
	// Fetcher 在 worker 不处理请求时直接访问网络。
	Fetcher worker.Fetcher
	// Updater 对应“检查更新”操作。
	Updater  func(ctx context.Context) error
	OnReload func(count int)
	Logger   *logrus.Logger
	Now      func() time.Time
}

// session 是一次页面加载周期；refreshed 防止同一周期内重复重载。
type session struct {
	client    *worker.Client
	refreshed bool
}

// Controller 持有一个页面会话。
type Controller struct {
	opts    Options
	dataURL *url.URL

	mu      sync.Mutex
	current *session
	reloads int
	doc     *dataset.Document
}

// NewController 校验参数并构建控制器。
func NewController(opts Options) (*Controller, error) {
	if opts.Registration == nil {
		return nil, fmt.Errorf("page registration required")
	}
	if opts.Scope == nil {
		return nil, fmt.Errorf("page scope required")
	}
	if opts.DataURL == "" {
		opts.DataURL = DefaultDataURL
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	dataURL, err := worker.ResolveAsset(opts.Scope, opts.DataURL)
	if err != nil {
		return nil, fmt.Errorf("resolve data url: %w", err)
	}
	return &Controller{opts: opts, dataURL: dataURL}, nil
}

// Start 连接为新客户端；若已有等待中的版本，立即请求接管。
func (c *Controller) Start(ctx context.Context) error {
	client, err := c.opts.Registration.Connect("")
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.current = &session{client: client}
	c.mu.Unlock()

	if c.opts.Registration.Waiting() != nil {
		return c.promptUpdate(ctx)
	}
	return nil
}

// Client 返回当前会话的客户端。
func (c *Controller) Client() *worker.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.client
}

// Reloads 返回已执行的重载次数。
func (c *Controller) Reloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloads
}

// Dataset 返回内存中的数据文档，未加载时为 nil。
func (c *Controller) Dataset() *dataset.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// Run 持续处理当前会话的事件，直到 ctx 结束或客户端被断开。
func (c *Controller) Run(ctx context.Context) error {
	for {
		handled, err := c.Step(ctx)
		if err != nil {
			return err
		}
		if !handled {
			return nil
		}
	}
}

// Step 阻塞等待当前会话的下一个事件并处理；通道关闭时返回 false。
func (c *Controller) Step(ctx context.Context) (bool, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return false, fmt.Errorf("page session not started")
	}
	select {
	case <-ctx.Done():
		c.Close()
		return false, ctx.Err()
	case ev, ok := <-s.client.Events():
		if !ok {
			return false, nil
		}
		return true, c.handle(ctx, s, ev)
	}
}

// HandleEvent 在当前会话上处理一个事件。
func (c *Controller) HandleEvent(ctx context.Context, ev worker.Event) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return fmt.Errorf("page session not started")
	}
	return c.handle(ctx, s, ev)
}

func (c *Controller) handle(ctx context.Context, s *session, ev worker.Event) error {
	switch ev.Type {
	case worker.EventStateChange:
		if ev.State == worker.StateInstalled && s.client.Controlled() {
			return c.promptUpdate(ctx)
		}
	case worker.EventControllerChange:
		c.mu.Lock()
		if s.refreshed {
			c.mu.Unlock()
			return nil
		}
		s.refreshed = true
		c.mu.Unlock()
		return c.Reload(ctx)
	case worker.EventNavigate:
		return c.Reload(ctx)
	}
	return nil
}

func (c *Controller) promptUpdate(ctx context.Context) error {
	return c.opts.Registration.PostMessage(ctx, worker.Message{Type: worker.MessageSkipWaiting})
}

// Reload 模拟整页重载：计数加一、丢弃内存数据、以新客户端重新连接并重新加载数据。
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	c.reloads++
	count := c.reloads
	c.doc = nil
	old := c.current
	c.current = nil
	c.mu.Unlock()

	if old != nil {
		c.opts.Registration.Disconnect(old.client.ID())
	}
	c.opts.Logger.WithFields(logrus.Fields{"action": "page_reload", "count": count}).Info("page_reload")
	if c.opts.OnReload != nil {
		c.opts.OnReload(count)
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	if _, err := c.Init(ctx); err != nil {
		c.opts.Logger.WithError(err).WithField("action", "page_reload").Warn("data_load_failed")
	}
	return nil
}

// LoadData 通过注册加载数据文档；noCache 追加 v=<毫秒时间戳> 并要求绕过传输缓存。
// worker 不处理时直接访问网络，非 2xx 视为失败。
func (c *Controller) LoadData(ctx context.Context, noCache bool) (*dataset.Document, error) {
	u := *c.dataURL
	if noCache {
		q := u.Query()
		q.Set("v", strconv.FormatInt(c.opts.Now().UnixMilli(), 10))
		u.RawQuery = q.Encode()
	}
	req := &worker.Request{
		Method:  http.MethodGet,
		URL:     &u,
		Header:  http.Header{"Accept": []string{"application/json"}},
		NoStore: noCache,
	}

	snap, err := c.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if !snap.OK() {
		return nil, fmt.Errorf("load data: status %d", snap.Status)
	}
	doc, err := dataset.Parse(snap.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.doc = doc
	c.mu.Unlock()
	return doc, nil
}

func (c *Controller) fetch(ctx context.Context, req *worker.Request) (*cache.Snapshot, error) {
	resp, err := c.opts.Registration.Fetch(ctx, req)
	switch {
	case err == nil:
		return resp.Snapshot, nil
	case errors.Is(err, worker.ErrNotHandled), errors.Is(err, worker.ErrNoController):
		if c.opts.Fetcher == nil {
			return nil, err
		}
		return c.opts.Fetcher.Fetch(ctx, req)
	default:
		return nil, err
	}
}

// Init 加载数据；失败时重试一次，两次都失败返回 ErrUnableToLoad。
func (c *Controller) Init(ctx context.Context) (*dataset.Document, error) {
	doc, err := c.LoadData(ctx, false)
	if err == nil {
		return doc, nil
	}
	c.opts.Logger.WithError(err).WithField("action", "page_init").Warn("data_load_retry")
	doc, err = c.LoadData(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnableToLoad, err)
	}
	return doc, nil
}

// RefreshData 是用户显式触发的绕过缓存刷新。
func (c *Controller) RefreshData(ctx context.Context) (*dataset.Document, error) {
	return c.LoadData(ctx, true)
}

// CheckForUpdates 触发“检查更新”。
func (c *Controller) CheckForUpdates(ctx context.Context) error {
	if c.opts.Updater == nil {
		return nil
	}
	return c.opts.Updater(ctx)
}

// Close 断开当前会话。
func (c *Controller) Close() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s != nil {
		c.opts.Registration.Disconnect(s.client.ID())
	}
}
