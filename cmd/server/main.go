package main

import (
	"time"

	"securechat/internal/auth"
	"securechat/internal/config"
	"securechat/internal/db"
	clog "securechat/internal/log"
	"securechat/internal/metrics"
	"securechat/internal/mirror"
	"securechat/internal/server"
	"securechat/internal/service"
	"securechat/internal/ws"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func main() {
	// 加载配置、初始化日志、连接主库与镜像库、准备默认房间并启动服务。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env)

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	// 镜像库是尽力而为的旁路，连不上不阻止启动
	mir, err := mirror.Connect(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Warn().Err(err).Msg("mirror connect, continuing without mirror")
		mir = nil
	} else if mir.Enabled() {
		log.Info().Str("db", cfg.MongoDB).Msg("mirror store connected")
	}

	users := service.NewUserService(gdb, mir)
	rooms := service.NewRoomService(gdb, mir)
	messages := service.NewMessageService(gdb, mir)
	presence := service.NewPresenceService(gdb)

	room, err := rooms.GetOrCreateDefault()
	if err != nil {
		log.Fatal().Err(err).Msg("default room")
	}
	log.Info().Str("room", room.Name).Uint("room_id", room.ID).Msg("default room ready")

	hub := ws.NewHub()
	gw := ws.NewGateway(hub, gdb, users, rooms, messages, presence, *room, cfg.HistoryLimit)

	go runSweeper(gdb, presence, cfg)

	h := server.NewHandler(gdb, users, presence, cfg)
	r := server.SetupRouter(cfg, h, gw)
	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}

// runSweeper 周期性地把超过阈值没有心跳的用户翻转为离线，
// 并顺带清理过期会话。
func runSweeper(gdb *gorm.DB, presence *service.PresenceService, cfg config.Config) {
	interval := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
	threshold := time.Duration(cfg.SweepThresholdMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		flipped, err := presence.SweepInactive(threshold)
		if err != nil {
			log.Error().Err(err).Msg("presence sweep")
		} else if flipped > 0 {
			metrics.SweepFlippedTotal.Add(float64(flipped))
			log.Info().Int64("flipped", flipped).Msg("presence sweep")
		}
		if purged, err := auth.PurgeExpired(gdb); err != nil {
			log.Error().Err(err).Msg("session purge")
		} else if purged > 0 {
			log.Info().Int64("purged", purged).Msg("session purge")
		}
	}
}
