package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/cache"
	"github.com/any-hub/peg-hub/internal/variant"
)

// Outcome 描述响应的来源。
type Outcome string

const (
	OutcomeNetwork  Outcome = "network"
	OutcomeCache    Outcome = "cache"
	OutcomeStale    Outcome = "stale"
	OutcomeFallback Outcome = "fallback"
	OutcomeOffline  Outcome = "offline"
	OutcomeBypass   Outcome = "bypass"
	outcomeError    Outcome = "error"
)

// Response 是 worker 自己给出的响应。
type Response struct {
	Snapshot *cache.Snapshot
	Outcome  Outcome
	Class    variant.Class
	Strategy variant.Strategy
	Version  string
}

// Fetch 对请求分类并执行对应策略。返回 ErrNotHandled 时调用方应直接访问网络。
func (w *Worker) Fetch(ctx context.Context, req *Request) (*Response, error) {
	class := w.classifier.Classify(req)
	strategy := w.profile.StrategyFor(class)

	if w.State() != StateActive || w.profile.Reset() || strategy == variant.StrategyPassThrough {
		fetchTotal.WithLabelValues(w.app, string(class), string(strategy), string(OutcomeBypass)).Inc()
		return nil, ErrNotHandled
	}

	var (
		snap    *cache.Snapshot
		outcome Outcome
		err     error
	)
	switch strategy {
	case variant.StrategyNetworkFirst:
		snap, outcome, err = w.networkFirst(ctx, req, class)
	case variant.StrategyCacheFirst:
		snap, outcome, err = w.cacheFirst(ctx, req)
	case variant.StrategyStaleWhileRevalidate:
		snap, outcome, err = w.staleWhileRevalidate(ctx, req)
	default:
		err = fmt.Errorf("unknown strategy %q", strategy)
	}

	if err != nil {
		fetchTotal.WithLabelValues(w.app, string(class), string(strategy), string(outcomeError)).Inc()
		w.logger.WithFields(w.requestFields(req, class, strategy)).WithError(err).Warn("fetch_failed")
		return nil, err
	}
	fetchTotal.WithLabelValues(w.app, string(class), string(strategy), string(outcome)).Inc()
	fields := w.requestFields(req, class, strategy)
	fields["outcome"] = string(outcome)
	fields["status"] = snap.Status
	w.logger.WithFields(fields).Debug("fetch_complete")

	return &Response{
		Snapshot: snap,
		Outcome:  outcome,
		Class:    class,
		Strategy: strategy,
		Version:  w.version,
	}, nil
}

// networkFirst: 禁用传输层缓存取网络；成功则写入动态代。失败依次回退到
// 缓存副本、离线兜底文档，最后原样返回非 2xx 响应或传播传输错误。
func (w *Worker) networkFirst(ctx context.Context, req *Request, class variant.Class) (*cache.Snapshot, Outcome, error) {
	fresh := req.clone()
	fresh.NoStore = true
	snap, fetchErr := w.fetcher.Fetch(ctx, fresh)
	if fetchErr == nil && snap.OK() {
		w.fill(ctx, req.Key(), snap)
		return snap, OutcomeNetwork, nil
	}

	if cached := w.lookup(ctx, req.Key()); cached != nil {
		return cached, OutcomeFallback, nil
	}
	if class == variant.ClassData || req.Navigation() {
		if doc := w.offlineDocument(ctx); doc != nil {
			return doc, OutcomeOffline, nil
		}
	}
	if fetchErr != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrNetwork, fetchErr)
	}
	return snap, OutcomeNetwork, nil
}

func (w *Worker) cacheFirst(ctx context.Context, req *Request) (*cache.Snapshot, Outcome, error) {
	if cached := w.lookup(ctx, req.Key()); cached != nil {
		return cached, OutcomeCache, nil
	}
	return w.fetchAndFill(ctx, req)
}

func (w *Worker) staleWhileRevalidate(ctx context.Context, req *Request) (*cache.Snapshot, Outcome, error) {
	if cached := w.lookup(ctx, req.Key()); cached != nil {
		w.revalidateAsync(req)
		return cached, OutcomeStale, nil
	}
	return w.fetchAndFill(ctx, req)
}

// fetchAndFill 处理缓存未命中：等待网络并在成功时写入动态代。
func (w *Worker) fetchAndFill(ctx context.Context, req *Request) (*cache.Snapshot, Outcome, error) {
	snap, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		if req.Navigation() {
			if doc := w.offlineDocument(ctx); doc != nil {
				return doc, OutcomeOffline, nil
			}
		}
		return nil, "", fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if snap.OK() {
		w.fill(ctx, req.Key(), snap)
	}
	return snap, OutcomeNetwork, nil
}

// revalidateAsync 启动脱离请求生命周期的后台刷新；槽位占满时直接跳过。
func (w *Worker) revalidateAsync(req *Request) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.state != StateActive {
		return
	}
	select {
	case w.bgSem <- struct{}{}:
	default:
		backgroundRefreshTotal.WithLabelValues(w.app, "skipped").Inc()
		return
	}

	refresh := req.clone()
	w.bgWG.Add(1)
	go func() {
		defer w.bgWG.Done()
		defer func() { <-w.bgSem }()
		ctx, cancel := context.WithTimeout(w.bgCtx, w.refreshTimeout)
		defer cancel()
		w.revalidateOnce(ctx, refresh)
	}()
}

func (w *Worker) revalidateOnce(ctx context.Context, req *Request) {
	snap, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		backgroundRefreshTotal.WithLabelValues(w.app, "failed").Inc()
		w.logger.WithFields(w.fields("revalidate")).WithError(err).
			WithField("url", req.URL.String()).Debug("revalidate_failed")
		return
	}
	if !snap.OK() {
		backgroundRefreshTotal.WithLabelValues(w.app, "not_ok").Inc()
		return
	}
	w.fill(ctx, req.Key(), snap)
	backgroundRefreshTotal.WithLabelValues(w.app, "ok").Inc()
}

// lookup 依次查询动态代与静态代；读取失败按未命中处理。
func (w *Worker) lookup(ctx context.Context, key cache.Key) *cache.Snapshot {
	w.mu.RLock()
	gens := []*cache.Generation{w.dynamic, w.static}
	w.mu.RUnlock()

	for _, gen := range gens {
		if gen == nil {
			continue
		}
		snap, err := gen.Match(ctx, key)
		if err == nil {
			return snap
		}
		if !errors.Is(err, cache.ErrNotFound) {
			w.logger.WithFields(w.fields("lookup")).WithError(err).
				WithFields(logrus.Fields{"generation": gen.Name(), "key": key.String()}).
				Warn("cache_match_failed")
		}
	}
	return nil
}

// fill 是尽力而为的写入：失败只记录日志与指标，不影响已取得的响应。
func (w *Worker) fill(ctx context.Context, key cache.Key, snap *cache.Snapshot) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.state != StateActive || w.dynamic == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.dynamic.Put(writeCtx, key, snap); err != nil {
		cacheWriteFailures.WithLabelValues(w.app).Inc()
		w.logger.WithFields(w.fields("fill")).WithError(err).
			WithFields(logrus.Fields{"generation": w.dynamic.Name(), "key": key.String()}).
			Warn("cache_write_failed")
	}
}

func (w *Worker) offlineDocument(ctx context.Context) *cache.Snapshot {
	if !w.profile.OfflineFallback || w.fallback == nil {
		return nil
	}
	return w.lookup(ctx, cache.NewKey(http.MethodGet, w.fallback))
}

func (w *Worker) requestFields(req *Request, class variant.Class, strategy variant.Strategy) logrus.Fields {
	fields := w.fields("fetch")
	fields["class"] = string(class)
	fields["strategy"] = string(strategy)
	if req != nil && req.URL != nil {
		fields["url"] = req.URL.String()
	}
	return fields
}
