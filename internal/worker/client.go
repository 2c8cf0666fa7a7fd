package worker

import (
	"sync"
)

// EventType 是推送给客户端的事件类型。
type EventType string

const (
	// EventStateChange 通知新版本的状态变化（目前只有 installed）。
	EventStateChange EventType = "statechange"
	// EventControllerChange 通知客户端的控制者已变更，每个客户端每次接管恰好一次。
	EventControllerChange EventType = "controllerchange"
	// EventNavigate 要求客户端重新导航（kill switch 激活后）。
	EventNavigate EventType = "navigate"
)

const clientEventBuffer = 32

// Event 是一次推送。
type Event struct {
	Type    EventType `json:"type"`
	Version string    `json:"version,omitempty"`
	State   State     `json:"state,omitempty"`
}

// Client 表示一个已连接的页面实例。
type Client struct {
	id     string
	events chan Event

	mu         sync.Mutex
	controller *Worker
	closed     bool
	dropped    int
}

func newClient(id string, controller *Worker) *Client {
	return &Client{
		id:         id,
		events:     make(chan Event, clientEventBuffer),
		controller: controller,
	}
}

// ID 返回客户端标识。
func (c *Client) ID() string { return c.id }

// Events 返回事件通道；客户端断开后通道关闭。
func (c *Client) Events() <-chan Event { return c.events }

// Controller 返回控制该客户端的版本，未受控时为空串。
func (c *Client) Controller() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return ""
	}
	return c.controller.Version()
}

// Controlled 表示客户端当前受某个 worker 控制。
func (c *Client) Controlled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller != nil
}

// claim 切换控制者，返回是否发生了变化。
func (c *Client) claim(w *Worker) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.controller == w {
		return false
	}
	c.controller = w
	return true
}

func (c *Client) release() {
	c.mu.Lock()
	c.controller = nil
	c.mu.Unlock()
}

// send 非阻塞投递。缓冲区满时 statechange 直接丢弃；controllerchange 与 navigate
// 必须送达，因此挤掉最旧的一条事件腾出位置。
func (c *Client) send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
	}
	c.dropped++
	if ev.Type == EventStateChange {
		return false
	}
	// 投递方只有持锁的 send，腾出一格后下一次写入必然成功。
	select {
	case <-c.events:
	default:
	}
	c.events <- ev
	return true
}

// Dropped 返回因缓冲区满被丢弃的事件数。
func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}
