package worker

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/logging"
	"github.com/any-hub/peg-hub/internal/variant"
)

// ErrRegistrationClosed 表示注册已关闭（进程退出中）。
var ErrRegistrationClosed = errors.New("registration closed")

// Registration 对应一个 app scope：持有 active/waiting 版本以及已连接的客户端。
// 生命周期操作（Update、SKIP_WAITING、Close）由 lifecycleMu 串行化；
// Fetch 只读取 active 指针，不会被安装过程阻塞。
type Registration struct {
	app    string
	logger *logrus.Logger

	lifecycleMu sync.Mutex

	mu           sync.RWMutex
	active       *Worker
	waiting      *Worker
	clients      map[string]*Client
	unregistered bool
	closed       bool
}

// NewRegistration 创建空注册。
func NewRegistration(app string, logger *logrus.Logger) *Registration {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registration{
		app:     app,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// App 返回 app 名称。
func (r *Registration) App() string { return r.app }

// Active 返回当前控制者，可能为 nil。
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting 返回等待中的版本，可能为 nil。
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Update 安装新版本。安装失败时旧版本继续服务并返回错误；
// 成功后若没有控制者或激活策略为 immediate 则立即激活，否则进入 waiting
// 并向所有客户端广播 statechange{installed}。
func (r *Registration) Update(ctx context.Context, w *Worker) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.isClosed() {
		return ErrRegistrationClosed
	}
	current := r.Active()
	if current != nil && r.Waiting() == nil &&
		current.Version() == w.Version() && reflect.DeepEqual(current.Profile(), w.Profile()) {
		r.logger.WithFields(r.fields("update", w)).Info("update_unchanged")
		return nil
	}

	// 冷启动，或同一版本只换了 profile 时，存储中已有完整的静态代就直接恢复，
	// 不重新下载也不改写静态代。
	restored := false
	if (current == nil && r.Waiting() == nil) || (current != nil && current.Version() == w.Version()) {
		restored = w.Restore(ctx) == nil
	}
	if !restored {
		if err := w.Install(ctx); err != nil {
			return err
		}
	}

	r.mu.Lock()
	previous := r.waiting
	r.waiting = nil
	hasActive := r.active != nil
	r.mu.Unlock()
	if previous != nil {
		previous.Retire()
	}

	if !hasActive || w.Profile().Activation == variant.ActivationImmediate {
		return r.activate(ctx, w)
	}

	r.mu.Lock()
	r.waiting = w
	clients := r.clientList()
	r.mu.Unlock()

	for _, client := range clients {
		client.send(Event{Type: EventStateChange, Version: w.Version(), State: StateInstalled})
	}
	r.logger.WithFields(r.fields("update", w)).Info("worker_waiting")
	return nil
}

// PostMessage 处理页面控制消息。SKIP_WAITING 提升等待中的版本，其余类型忽略。
func (r *Registration) PostMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		r.lifecycleMu.Lock()
		defer r.lifecycleMu.Unlock()
		if r.isClosed() {
			return ErrRegistrationClosed
		}
		r.mu.Lock()
		w := r.waiting
		r.waiting = nil
		r.mu.Unlock()
		if w == nil {
			r.logger.WithFields(r.fields("message", nil)).Debug("skip_waiting_noop")
			return nil
		}
		lifecycleTotal.WithLabelValues(r.app, "skip_waiting").Inc()
		return r.activate(ctx, w)
	default:
		fields := r.fields("message", nil)
		fields["type"] = msg.Type
		r.logger.WithFields(fields).Warn("message_ignored")
		return nil
	}
}

// activate 依次执行：新版本回收旧代并激活 -> 切换 active -> 旧版本退役 -> 接管客户端。
// 回收期间旧版本继续服务，请求不会落空。调用方必须持有 lifecycleMu。
func (r *Registration) activate(ctx context.Context, w *Worker) error {
	r.mu.RLock()
	old := r.active
	r.mu.RUnlock()
	if old == w {
		old = nil
	}

	if _, err := w.Activate(ctx); err != nil {
		w.Retire()
		return err
	}

	if w.Profile().Reset() {
		r.unregister(w)
		if old != nil {
			old.Retire()
		}
		return nil
	}

	r.mu.Lock()
	r.active = w
	r.unregistered = false
	clients := r.clientList()
	r.mu.Unlock()

	if old != nil {
		old.Retire()
	}

	claimed := 0
	for _, client := range clients {
		if client.claim(w) {
			client.send(Event{Type: EventControllerChange, Version: w.Version()})
			claimed++
		}
	}
	fields := r.fields("claim", w)
	fields["clients"] = claimed
	r.logger.WithFields(fields).Info("controller_claimed")
	return nil
}

// unregister 是 kill switch 的收尾：注销注册并让每个客户端重新导航一次。
func (r *Registration) unregister(w *Worker) {
	w.Retire()

	r.mu.Lock()
	r.active = nil
	r.unregistered = true
	clients := r.clientList()
	r.mu.Unlock()

	for _, client := range clients {
		client.release()
		client.send(Event{Type: EventNavigate, Version: w.Version()})
	}
	lifecycleTotal.WithLabelValues(r.app, "reset").Inc()
	fields := r.fields("reset", w)
	fields["clients"] = len(clients)
	r.logger.WithFields(fields).Warn("registration_reset")
}

// Fetch 把请求交给当前控制者。
func (r *Registration) Fetch(ctx context.Context, req *Request) (*Response, error) {
	w := r.Active()
	if w == nil {
		return nil, ErrNoController
	}
	return w.Fetch(ctx, req)
}

// Connect 连接一个客户端；id 为空时生成 uuid。页面在控制者存在时加载即受控。
func (r *Registration) Connect(id string) (*Client, error) {
	if id == "" {
		id = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistrationClosed
	}
	if prev, ok := r.clients[id]; ok {
		prev.close()
	}
	client := newClient(id, r.active)
	r.clients[id] = client
	return client, nil
}

// Disconnect 断开客户端并关闭其事件通道。
func (r *Registration) Disconnect(id string) bool {
	r.mu.Lock()
	client, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()
	if ok {
		client.close()
	}
	return ok
}

// Client 按 id 查找已连接客户端。
func (r *Registration) Client(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[id]
	return client, ok
}

// Close 退役所有版本并断开全部客户端。
func (r *Registration) Close() {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	active, waiting := r.active, r.waiting
	r.active, r.waiting = nil, nil
	clients := r.clientList()
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, w := range []*Worker{active, waiting} {
		if w != nil {
			w.Close()
		}
	}
	for _, client := range clients {
		client.close()
	}
}

// WorkerStatus 是诊断输出中的版本信息。
type WorkerStatus struct {
	Version           string `json:"version"`
	State             State  `json:"state"`
	Variant           string `json:"variant"`
	StaticGeneration  string `json:"static_generation"`
	DynamicGeneration string `json:"dynamic_generation"`
}

// ClientStatus 是诊断输出中的客户端信息。
type ClientStatus struct {
	ID         string `json:"id"`
	Controller string `json:"controller,omitempty"`
	Dropped    int    `json:"dropped,omitempty"`
}

// Status 是注册的诊断快照。
type Status struct {
	App          string         `json:"app"`
	Active       *WorkerStatus  `json:"active,omitempty"`
	Waiting      *WorkerStatus  `json:"waiting,omitempty"`
	Clients      []ClientStatus `json:"clients"`
	Unregistered bool           `json:"unregistered"`
}

// Snapshot 返回当前状态，供 /-/workers 诊断端使用。
func (r *Registration) Snapshot() Status {
	r.mu.RLock()
	active, waiting := r.active, r.waiting
	clients := r.clientList()
	unregistered := r.unregistered
	r.mu.RUnlock()

	status := Status{
		App:          r.app,
		Active:       workerStatus(active),
		Waiting:      workerStatus(waiting),
		Clients:      make([]ClientStatus, 0, len(clients)),
		Unregistered: unregistered,
	}
	for _, client := range clients {
		status.Clients = append(status.Clients, ClientStatus{
			ID:         client.ID(),
			Controller: client.Controller(),
			Dropped:    client.Dropped(),
		})
	}
	return status
}

func workerStatus(w *Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{
		Version:           w.Version(),
		State:             w.State(),
		Variant:           w.Profile().Variant,
		StaticGeneration:  w.StaticName(),
		DynamicGeneration: w.DynamicName(),
	}
}

// clientList 返回按 id 排序的客户端；调用方须持有 mu。
func (r *Registration) clientList() []*Client {
	out := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, client)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registration) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registration) fields(action string, w *Worker) logrus.Fields {
	version, variantKey := "", ""
	if w != nil {
		version, variantKey = w.Version(), w.Profile().Variant
	}
	fields := logging.WorkerFields(r.app, version, variantKey)
	fields["action"] = action
	return fields
}
