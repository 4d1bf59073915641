package server

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"securechat/internal/auth"
	"securechat/internal/config"
	"securechat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Handler 聚合认证相关的 HTTP handler，依赖注入 service 层。
type Handler struct {
	db       *gorm.DB
	userSvc  *service.UserService
	presence *service.PresenceService
	cfg      config.Config
}

func NewHandler(db *gorm.DB, userSvc *service.UserService, presence *service.PresenceService, cfg config.Config) *Handler {
	return &Handler{db: db, userSvc: userSvc, presence: presence, cfg: cfg}
}

func (h *Handler) sessionTTL() time.Duration {
	return time.Duration(h.cfg.SessionTTLHours) * time.Hour
}

func (h *Handler) setSessionCookie(c *gin.Context, token string) {
	secure := h.cfg.Env != "dev"
	c.SetCookie(auth.CookieName, token, int(h.sessionTTL().Seconds()), "/", "", secure, true)
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	secure := h.cfg.Env != "dev"
	c.SetCookie(auth.CookieName, "", -1, "/", "", secure, true)
}

// Register 处理用户注册，成功后直接建立会话。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields are required"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields are required"})
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 50 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username must be 3-50 characters long"})
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email address"})
		return
	}
	if len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 6 characters long"})
		return
	}

	user, err := h.userSvc.Register(req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "Username already exists"})
		case errors.Is(err, service.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "Email already exists"})
		default:
			log.Error().Err(err).Str("username", req.Username).Msg("register")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed. Please try again."})
		}
		return
	}

	token, err := auth.CreateSession(h.db, user.ID, h.sessionTTL())
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("register create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed. Please try again."})
		return
	}
	h.setSessionCookie(c, token)
	log.Info().Str("username", user.Username).Msg("user registered")
	c.JSON(http.StatusCreated, gin.H{"success": true, "username": user.Username})
}

// Login 校验凭证并建立会话。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	user, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := auth.CreateSession(h.db, user.ID, h.sessionTTL())
	if err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("login create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	h.setSessionCookie(c, token)
	log.Info().Str("username", user.Username).Msg("user logged in")
	c.JSON(http.StatusOK, gin.H{"success": true, "username": user.Username})
}

// Session 报告当前会话状态，无会话时也返回 200。
func (h *Handler) Session(c *gin.Context) {
	token, err := c.Cookie(auth.CookieName)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	user, err := auth.SessionUser(h.db, token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
		},
	})
}

// OnlineUsers 返回当前在线名单，挂在 auth.Middleware 之后。
func (h *Handler) OnlineUsers(c *gin.Context) {
	users, err := h.presence.OnlineUsers()
	if err != nil {
		log.Error().Err(err).Msg("list online users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load online users"})
		return
	}
	resp := gin.H{"users": users}
	if me := auth.CurrentUser(c); me != nil {
		resp["me"] = me.Username
	}
	c.JSON(http.StatusOK, resp)
}

// Logout 标记用户离线并销毁会话。没有会话时幂等返回成功。
func (h *Handler) Logout(c *gin.Context) {
	token, err := c.Cookie(auth.CookieName)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	user, serr := auth.SessionUser(h.db, token)
	if serr == nil {
		if err := h.userSvc.SetOnline(user.ID, false); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("logout set offline")
		}
	}
	if err := auth.DestroySession(h.db, token); err != nil {
		log.Error().Err(err).Msg("logout destroy session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Logout failed"})
		return
	}
	h.clearSessionCookie(c)
	if serr == nil {
		log.Info().Str("username", user.Username).Msg("user logged out")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
