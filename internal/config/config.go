package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	MongoURI              string
	MongoDB               string
	Env                   string
	StaticDir             string
	SessionTTLHours       int
	HistoryLimit          int
	SweepIntervalMinutes  int
	SweepThresholdMinutes int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load 从环境变量加载配置，缺省值面向本地开发。
// MONGO_URI 为空表示不启用镜像库。
func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "3000"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=securechat port=5432 sslmode=disable TimeZone=UTC"),
		MongoURI:              getenv("MONGO_URI", ""),
		MongoDB:               getenv("MONGO_DB", "securechat"),
		Env:                   getenv("APP_ENV", "dev"),
		StaticDir:             getenv("STATIC_DIR", "./web"),
		SessionTTLHours:       getint("SESSION_TTL_HOURS", 24),
		HistoryLimit:          getint("HISTORY_LIMIT", 100),
		SweepIntervalMinutes:  getint("SWEEP_INTERVAL_MINUTES", 5),
		SweepThresholdMinutes: getint("SWEEP_THRESHOLD_MINUTES", 5),
	}
}
