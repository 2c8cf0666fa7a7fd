package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/cache"
	"github.com/any-hub/peg-hub/internal/logging"
	"github.com/any-hub/peg-hub/internal/variant"
)

var (
	// ErrNotHandled 表示 worker 不处理该请求，调用方应直接走网络。
	ErrNotHandled = errors.New("request not handled by worker")
	// ErrNoController 表示注册下没有处于 active 的 worker。
	ErrNoController = errors.New("no active worker")
	// ErrInstallFailed 表示核心资源预热失败，该版本不会被激活。
	ErrInstallFailed = errors.New("worker install failed")
	// ErrNetwork 表示网络失败且没有任何缓存或兜底可用。
	ErrNetwork = errors.New("network request failed")
	// ErrNotRestorable 表示存储中没有可直接恢复的静态代。
	ErrNotRestorable = errors.New("worker not restorable")
)

// State 对应 worker 生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

const (
	defaultMaxBackgroundRefresh = 32
	defaultRefreshTimeout       = 30 * time.Second
	dynamicInfix                = "dynamic-"
)

// Options 描述一个 worker 版本所需的全部输入。
type Options struct {
	App         string
	Version     string
	CachePrefix string
	// Scope 是 app 的公开 origin + 路径，如 https://peg.example/。
	Scope   *url.URL
	Profile variant.Profile

	CoreAssets      []string
	DataSuffixes    []string
	OfflineFallback string

	Store   cache.Store
	Fetcher Fetcher
	Logger  *logrus.Logger

	MaxBackgroundRefresh int
	RefreshTimeout       time.Duration
}

// Worker 是某个版本的缓存 worker。
type Worker struct {
	app         string
	version     string
	cachePrefix string
	scope       *url.URL
	profile     variant.Profile
	classifier  *Classifier
	fallback    *url.URL

	store   cache.Store
	fetcher Fetcher
	logger  *logrus.Logger

	// mu 保护 state 与代句柄；运行期写缓存持有读锁，Retire 持有写锁，
	// 保证 Retire 返回后不会再有写入落到即将被回收的代。
	mu      sync.RWMutex
	state   State
	static  *cache.Generation
	dynamic *cache.Generation

	bgSem          chan struct{}
	bgWG           sync.WaitGroup
	bgCtx          context.Context
	bgCancel       context.CancelFunc
	refreshTimeout time.Duration
}

// New 校验参数并构建处于 parsed 状态的 worker。
func New(opts Options) (*Worker, error) {
	if strings.TrimSpace(opts.App) == "" {
		return nil, fmt.Errorf("worker app name required")
	}
	if strings.TrimSpace(opts.Version) == "" {
		return nil, fmt.Errorf("worker version required")
	}
	if opts.Store == nil {
		return nil, cache.ErrStoreUnavailable
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("worker fetcher required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.CachePrefix == "" {
		opts.CachePrefix = opts.App + "-"
	}
	if opts.MaxBackgroundRefresh <= 0 {
		opts.MaxBackgroundRefresh = defaultMaxBackgroundRefresh
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.Profile.Strategies == nil {
		opts.Profile = variant.ResolveProfile(variant.Metadata{Key: variant.DefaultVariantKey()}, variant.Options{})
	}

	assets := append([]string(nil), opts.CoreAssets...)
	var fallback *url.URL
	if opts.OfflineFallback != "" {
		resolved, err := ResolveAsset(opts.Scope, opts.OfflineFallback)
		if err != nil {
			return nil, fmt.Errorf("resolve offline fallback: %w", err)
		}
		fallback = resolved
		assets = append(assets, opts.OfflineFallback)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	w := &Worker{
		app:            opts.App,
		version:        opts.Version,
		cachePrefix:    opts.CachePrefix,
		scope:          opts.Scope,
		profile:        opts.Profile,
		classifier:     NewClassifier(opts.Scope, assets, opts.DataSuffixes),
		fallback:       fallback,
		store:          opts.Store,
		fetcher:        opts.Fetcher,
		logger:         opts.Logger,
		state:          StateParsed,
		bgSem:          make(chan struct{}, opts.MaxBackgroundRefresh),
		bgCtx:          bgCtx,
		bgCancel:       bgCancel,
		refreshTimeout: opts.RefreshTimeout,
	}
	return w, nil
}

// App 返回所属 app 名称。
func (w *Worker) App() string { return w.app }

// Version 返回版本标签。
func (w *Worker) Version() string { return w.version }

// Profile 返回合并后的策略。
func (w *Worker) Profile() variant.Profile { return w.profile }

// Classifier 返回请求分类器。
func (w *Worker) Classifier() *Classifier { return w.classifier }

// StaticName 返回静态资源代名称：<prefix><version>。
func (w *Worker) StaticName() string {
	return w.cachePrefix + w.version
}

// DynamicName 返回运行期填充代名称：<prefix>dynamic-<version>。
func (w *Worker) DynamicName() string {
	return w.cachePrefix + dynamicInfix + w.version
}

// State 返回当前生命周期状态。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *Worker) fields(action string) logrus.Fields {
	fields := logging.WorkerFields(w.app, w.version, w.profile.Variant)
	fields["action"] = action
	return fields
}
