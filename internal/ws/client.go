package ws

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"securechat/internal/metrics"
	"securechat/internal/service"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const maxMessageLen = 2000

// Client 是一条存活连接：连接 id、会话用户与每连接状态机。
// 状态流转 Unjoined → Joined → Closed，身份在握手时就绑定，
// join 事件里的用户名只用来核对。
type Client struct {
	hub  *Hub
	gw   *Gateway
	conn *websocket.Conn
	send chan []byte

	id       string
	userID   uint
	username string
	joinedAt time.Time

	joined bool
	once   sync.Once
}

// readPump 逐条读入站事件并分发，连接断开时触发幂等的下线流程。
func (c *Client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(1 << 16)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		switch in.Type {
		case evtJoin:
			c.handleJoin(in.Username)
		case evtMessage:
			c.handleMessage(in.Message)
		case evtTyping:
			c.handleTyping(in.IsTyping)
		}
	}
}

// handleJoin 执行加入流程：解析用户、标记在线、确保成员关系、
// 私发历史、向他人广播入场通告、向全体广播在线名单。
// 历史在注册进 Hub 之前直接入队，保证它先于任何广播到达。
func (c *Client) handleJoin(requested string) {
	if requested != "" && requested != c.username {
		c.fail("Username does not match session")
		return
	}
	user, err := c.gw.users.FindByUsername(c.username)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.fail("User not found")
			return
		}
		log.Error().Err(err).Str("username", c.username).Msg("join resolve user")
		c.fail("Failed to join chat")
		return
	}
	if err := c.gw.users.SetOnline(user.ID, true); err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("join set online")
		c.fail("Failed to join chat")
		return
	}
	if err := c.gw.rooms.Join(user.ID, c.gw.room.ID); err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("join membership")
		c.fail("Failed to join chat")
		return
	}
	history, err := c.gw.messages.Recent(c.gw.room.ID, c.gw.historyLimit)
	if err != nil {
		log.Error().Err(err).Uint("room_id", c.gw.room.ID).Msg("join history")
		c.fail("Failed to join chat")
		return
	}
	c.userID = user.ID

	if c.joined {
		// 重复 join 不报错，重发历史与名单即可
		c.hub.SendTo(c, historyEvent(history))
		c.broadcastRoster()
		return
	}
	c.joinedAt = time.Now()
	c.enqueue(historyEvent(history))
	c.hub.Register(c)
	c.joined = true
	c.hub.BroadcastExcept(c, noticeEvent(evtUserJoined, c.username, c.username+" joined the chat"))
	c.broadcastRoster()
	log.Info().Str("conn_id", c.id).Str("username", c.username).Msg("user joined")
}

// handleMessage 持久化后广播给全体（含发送者，客户端不做本地回显）。
func (c *Client) handleMessage(content string) {
	if !c.joined {
		c.fail("User not authenticated")
		return
	}
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxMessageLen {
		c.fail("Invalid message")
		return
	}
	dto, err := c.gw.messages.Create(c.userID, c.gw.room.ID, content)
	if err != nil {
		log.Error().Err(err).Uint("user_id", c.userID).Msg("persist message")
		c.fail("Failed to send message")
		return
	}
	metrics.WsMessagesTotal.Inc()
	c.hub.Broadcast(messageEvent(dto))
}

// handleTyping 只转发给其他连接；未 join 的连接直接忽略。
func (c *Client) handleTyping(isTyping bool) {
	if !c.joined {
		return
	}
	c.hub.BroadcastExcept(c, typingEvent(c.username, isTyping))
}

// leave 是幂等的下线流程：注销、标记离线、广播离场通告与新名单。
// 重复断开只产生一次广播。
func (c *Client) leave() {
	c.once.Do(func() {
		c.hub.Unregister(c)
		if !c.joined {
			return
		}
		if err := c.gw.users.SetOnline(c.userID, false); err != nil {
			log.Error().Err(err).Uint("user_id", c.userID).Msg("disconnect set offline")
		}
		c.hub.Broadcast(noticeEvent(evtUserLeft, c.username, c.username+" left the chat"))
		c.broadcastRoster()
		log.Info().Str("conn_id", c.id).Str("username", c.username).Msg("user left")
	})
}

func (c *Client) close() {
	c.leave()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// broadcastRoster 重新计算持久化在线名单并广播给全体连接。
func (c *Client) broadcastRoster() {
	users, err := c.gw.presence.OnlineUsers()
	if err != nil {
		log.Error().Err(err).Msg("recompute roster")
		return
	}
	metrics.OnlineUsers.Set(float64(len(users)))
	c.hub.Broadcast(usersListEvent(users))
}

// fail 把错误事件送回本连接。注册前直接入队，注册后必须经 Hub，
// 避免和 Hub 关闭发送队列竞争。
func (c *Client) fail(msg string) {
	if c.joined {
		c.hub.SendTo(c, errorEvent(msg))
		return
	}
	c.enqueue(errorEvent(msg))
}

// enqueue 直接写发送队列，只允许在连接注册进 Hub 之前使用。
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
