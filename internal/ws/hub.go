package ws

import (
	"sort"
	"sync/atomic"

	"securechat/internal/metrics"
)

// envelope 是一次投递请求：only 优先于 skip，两者都空则广播给全体。
type envelope struct {
	data []byte
	skip *Client
	only *Client
}

// Hub 独占持有存活连接表。表只在 run loop 里读写，
// 外部通过通道提交注册、注销与投递请求。
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	cast       chan envelope
	who        chan chan []string
	online     int32
}

func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cast:       make(chan envelope, 256),
		who:        make(chan chan []string),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			atomic.StoreInt32(&h.online, int32(len(h.clients)))
			metrics.WsConnections.Inc()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				atomic.StoreInt32(&h.online, int32(len(h.clients)))
				metrics.WsConnections.Dec()
			}
		case env := <-h.cast:
			h.deliver(env)
		case reply := <-h.who:
			reply <- h.usernames()
		}
	}
}

// deliver 把 payload 写入目标连接的发送队列，队列已满视为死连接并移除。
func (h *Hub) deliver(env envelope) {
	if env.only != nil {
		if h.clients[env.only] {
			h.send(env.only, env.data)
		}
		return
	}
	for c := range h.clients {
		if c == env.skip {
			continue
		}
		h.send(c, env.data)
	}
}

func (h *Hub) send(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		delete(h.clients, c)
		close(c.send)
		atomic.StoreInt32(&h.online, int32(len(h.clients)))
		metrics.WsConnections.Dec()
	}
}

func (h *Hub) usernames() []string {
	seen := make(map[string]struct{}, len(h.clients))
	names := make([]string, 0, len(h.clients))
	for c := range h.clients {
		if _, ok := seen[c.username]; ok {
			continue
		}
		seen[c.username] = struct{}{}
		names = append(names, c.username)
	}
	sort.Strings(names)
	return names
}

// Register 把连接加入存活表。只有完成 join 的连接才会被注册。
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister 把连接移出存活表，对未注册的连接是 no-op。
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Broadcast 投递给所有存活连接。
func (h *Hub) Broadcast(data []byte) { h.cast <- envelope{data: data} }

// BroadcastExcept 投递给除 skip 外的所有存活连接。
func (h *Hub) BroadcastExcept(skip *Client, data []byte) {
	h.cast <- envelope{data: data, skip: skip}
}

// SendTo 只投递给单个已注册连接，连接已离线则静默丢弃。
func (h *Hub) SendTo(c *Client, data []byte) { h.cast <- envelope{data: data, only: c} }

// Online 返回当前存活连接数，供指标与测试使用。
func (h *Hub) Online() int { return int(atomic.LoadInt32(&h.online)) }

// Usernames 返回存活连接去重后的用户名，按字典序。
func (h *Hub) Usernames() []string {
	reply := make(chan []string, 1)
	h.who <- reply
	return <-reply
}
