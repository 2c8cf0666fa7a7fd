package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/any-hub/peg-hub/internal/cache"
)

type prefetched struct {
	key  cache.Key
	snap *cache.Snapshot
}

// Install 预热静态代：先取回全部核心资源，全部成功后才打开并写入静态代。
// 任一资源失败都会让 worker 进入 redundant，且不留下静态代。
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)
	if w.profile.Reset() {
		w.setState(StateInstalled)
		lifecycleTotal.WithLabelValues(w.app, "install_ok").Inc()
		w.logger.WithFields(w.fields("install")).Info("install_complete")
		return nil
	}

	assets := w.classifier.CoreAssets()
	items := make([]prefetched, 0, len(assets))
	for _, asset := range assets {
		req := &Request{Method: http.MethodGet, URL: asset, Header: http.Header{}}
		snap, err := w.fetcher.Fetch(ctx, req)
		if err != nil {
			return w.failInstall(ctx, fmt.Errorf("fetch %s: %w", asset, err), false)
		}
		if !snap.OK() {
			return w.failInstall(ctx, fmt.Errorf("fetch %s: status %d", asset, snap.Status), false)
		}
		items = append(items, prefetched{key: req.Key(), snap: snap})
	}

	gen, err := cache.Open(ctx, w.store, w.StaticName())
	if err != nil {
		return w.failInstall(ctx, fmt.Errorf("open %s: %w", w.StaticName(), err), true)
	}
	for _, item := range items {
		if err := gen.Put(ctx, item.key, item.snap); err != nil {
			return w.failInstall(ctx, fmt.Errorf("write %s: %w", item.key, err), true)
		}
	}

	w.mu.Lock()
	w.static = gen
	w.state = StateInstalled
	w.mu.Unlock()

	lifecycleTotal.WithLabelValues(w.app, "install_ok").Inc()
	fields := w.fields("install")
	fields["generation"] = w.StaticName()
	fields["assets"] = len(items)
	w.logger.WithFields(fields).Info("install_complete")
	return nil
}

// Restore 在进程重启后恢复已安装的版本：静态代已存在且包含全部核心资源时，
// 不访问网络直接进入 installed。条件不满足返回 ErrNotRestorable，调用方应改用 Install。
func (w *Worker) Restore(ctx context.Context) error {
	if w.profile.Reset() || w.State() != StateParsed {
		return ErrNotRestorable
	}
	names, err := w.store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotRestorable, err)
	}
	found := false
	for _, name := range names {
		if name == w.StaticName() {
			found = true
			break
		}
	}
	if !found {
		return ErrNotRestorable
	}

	gen, err := cache.Open(ctx, w.store, w.StaticName())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotRestorable, err)
	}
	for _, asset := range w.classifier.CoreAssets() {
		req := &Request{Method: http.MethodGet, URL: asset}
		if _, err := gen.Match(ctx, req.Key()); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrNotRestorable, asset, err)
		}
	}

	w.mu.Lock()
	w.static = gen
	w.state = StateInstalled
	w.mu.Unlock()

	fields := w.fields("install")
	fields["generation"] = w.StaticName()
	w.logger.WithFields(fields).Info("install_restored")
	return nil
}

func (w *Worker) failInstall(ctx context.Context, cause error, dropStatic bool) error {
	if dropStatic {
		if _, err := w.store.DropGeneration(context.WithoutCancel(ctx), w.StaticName()); err != nil {
			w.logger.WithFields(w.fields("install")).WithError(err).Warn("install_cleanup_failed")
		}
	}
	w.setState(StateRedundant)
	lifecycleTotal.WithLabelValues(w.app, "install_failed").Inc()
	w.logger.WithFields(w.fields("install")).WithError(cause).Error("install_failed")
	return fmt.Errorf("%w: %w", ErrInstallFailed, cause)
}

// Activate 回收旧代后进入 active，返回被删除的代名称。
// serve 模式仅删除以 CachePrefix 开头且不属于当前版本的代；reset 模式删除全部代。
// 回收失败只记录日志，不阻止激活。
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	if state := w.State(); state != StateInstalled {
		return nil, fmt.Errorf("activate from state %s", state)
	}
	w.setState(StateActivating)

	deleted := w.collectGarbage(ctx)

	var dynamic *cache.Generation
	if !w.profile.Reset() {
		gen, err := cache.Open(ctx, w.store, w.DynamicName())
		if err != nil {
			w.logger.WithFields(w.fields("activate")).WithError(err).Warn("dynamic_open_failed")
		} else {
			dynamic = gen
		}
	}

	w.mu.Lock()
	w.dynamic = dynamic
	w.state = StateActive
	w.mu.Unlock()

	lifecycleTotal.WithLabelValues(w.app, "activate").Inc()
	fields := w.fields("activate")
	fields["deleted"] = len(deleted)
	w.logger.WithFields(fields).Info("activate_complete")
	return deleted, nil
}

func (w *Worker) collectGarbage(ctx context.Context) []string {
	names, err := w.store.Generations(ctx)
	if err != nil {
		w.logger.WithFields(w.fields("activate")).WithError(err).Warn("generation_list_failed")
		return nil
	}
	keep := map[string]bool{w.StaticName(): true, w.DynamicName(): true}
	reset := w.profile.Reset()

	// 只回收本 App 前缀下的代；reset 模式连当前两代也一并删除。
	var deleted []string
	for _, name := range names {
		if !strings.HasPrefix(name, w.cachePrefix) || (!reset && keep[name]) {
			continue
		}
		existed, err := w.store.DropGeneration(ctx, name)
		if err != nil {
			w.logger.WithFields(w.fields("activate")).WithError(err).
				WithField("generation", name).Warn("generation_delete_failed")
			continue
		}
		if !existed {
			continue
		}
		deleted = append(deleted, name)
		generationsDeletedTotal.WithLabelValues(w.app).Inc()
		w.logger.WithFields(w.fields("activate")).WithField("generation", name).Info("generation_deleted")
	}
	return deleted
}

// Retire 让 worker 进入 redundant 并等待已启动的后台刷新结束。
func (w *Worker) Retire() {
	w.mu.Lock()
	already := w.state == StateRedundant
	w.state = StateRedundant
	w.mu.Unlock()

	w.bgWG.Wait()
	if !already {
		w.logger.WithFields(w.fields("retire")).Debug("worker_retired")
	}
}

// Close 取消进行中的后台刷新后退役，用于进程退出。
func (w *Worker) Close() {
	w.bgCancel()
	w.Retire()
}

// Wait 等待当前所有后台刷新结束。
func (w *Worker) Wait() {
	w.bgWG.Wait()
}
