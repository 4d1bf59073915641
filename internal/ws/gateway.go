package ws

import (
	"net/http"

	"securechat/internal/auth"
	"securechat/internal/models"
	"securechat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway 把 HTTP 会话延续到 WebSocket：升级前校验 cookie，
// 把已认证的身份绑定到连接上，再由事件驱动 Hub 操作。
type Gateway struct {
	hub          *Hub
	db           *gorm.DB
	users        *service.UserService
	rooms        *service.RoomService
	messages     *service.MessageService
	presence     *service.PresenceService
	room         models.Room
	historyLimit int
}

func NewGateway(hub *Hub, db *gorm.DB, users *service.UserService, rooms *service.RoomService,
	messages *service.MessageService, presence *service.PresenceService,
	room models.Room, historyLimit int) *Gateway {
	return &Gateway{
		hub:          hub,
		db:           db,
		users:        users,
		rooms:        rooms,
		messages:     messages,
		presence:     presence,
		room:         room,
		historyLimit: historyLimit,
	}
}

// Serve 返回 WebSocket 入口。没有有效会话的请求直接拒绝，
// 升级成功后连接保持 Unjoined，直到客户端发出 join 事件。
func (g *Gateway) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(auth.CookieName)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		user, err := auth.SessionUser(g.db, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade")
			return
		}
		client := &Client{
			hub:      g.hub,
			gw:       g,
			conn:     conn,
			send:     make(chan []byte, 256),
			id:       uuid.NewString(),
			userID:   user.ID,
			username: user.Username,
		}
		go client.writePump()
		client.readPump()
	}
}
