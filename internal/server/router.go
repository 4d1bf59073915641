package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"securechat/internal/auth"
	"securechat/internal/config"
	"securechat/internal/metrics"
	"securechat/internal/mw"
	"securechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化中间件、认证 API、WebSocket 端点与静态壳页面。
func SetupRouter(cfg config.Config, h *Handler, gw *ws.Gateway) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.GET("/session", h.Session)
	api.POST("/logout", h.Logout)
	api.GET("/users/online", auth.Middleware(h.db), h.OnlineUsers)

	r.GET("/ws", gw.Serve())

	registerStatic(r, cfg.StaticDir)
	return r
}

// registerStatic 提供单页客户端：已知文件按原样返回，
// 其余路径都回落到 index.html。API 前缀永远不被静态层吞掉。
func registerStatic(r *gin.Engine, dir string) {
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		return
	}
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Status(http.StatusNotFound)
			return
		}
		rel := strings.TrimPrefix(filepath.Clean(c.Request.URL.Path), "/")
		if rel == "" {
			c.File(index)
			return
		}
		if strings.HasPrefix(rel, "api/") || rel == "metrics" || rel == "healthz" || strings.HasPrefix(rel, "ws") {
			c.Status(http.StatusNotFound)
			return
		}
		target := filepath.Join(dir, rel)
		if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
			c.File(target)
			return
		}
		if strings.Contains(rel, ".") {
			c.Status(http.StatusNotFound)
			return
		}
		c.File(index)
	})
}
