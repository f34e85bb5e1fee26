package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config collects everything the server reads from the environment at
// startup. All values have working defaults for local development against
// sqlite; production deployments set STREAMPANEL_POSTGRES_DB and the
// Telegram notification settings.
type Config struct {
	// Addr is the listen address for the admin HTTP API.
	Addr string
	// PostgresDb is the postgres DSN. When empty the server runs on a
	// local sqlite file instead.
	PostgresDb string
	// SqlitePath is the sqlite database path used when PostgresDb is unset.
	SqlitePath string

	TelegramBotToken        string
	TelegramAdminChats      []int64
	AuditLogPath            string
	AppLogPath              string
	StatsdAddr              string
	SchedulerDisabled       bool
	ReaperInterval          time.Duration
	LimitsInterval          time.Duration
	StatusInterval          time.Duration
	OrphanInterval          time.Duration
	IsProductionEnvironment bool
}

func FromEnv() Config {
	return Config{
		Addr:                    getenvDefault("STREAMPANEL_ADDR", ":8080"),
		PostgresDb:              os.Getenv("STREAMPANEL_POSTGRES_DB"),
		SqlitePath:              getenvDefault("STREAMPANEL_SQLITE_PATH", "streampanel.db"),
		TelegramBotToken:        os.Getenv("STREAMPANEL_TELEGRAM_BOT_TOKEN"),
		TelegramAdminChats:      parseChatIds(os.Getenv("STREAMPANEL_TELEGRAM_ADMIN_CHAT_IDS")),
		AuditLogPath:            getenvDefault("STREAMPANEL_AUDIT_LOG", "audit.log"),
		AppLogPath:              getenvDefault("STREAMPANEL_LOG", "streampanel.log"),
		StatsdAddr:              os.Getenv("STREAMPANEL_STATSD_ADDR"),
		SchedulerDisabled:       os.Getenv("STREAMPANEL_DISABLE_SCHEDULER") != "",
		ReaperInterval:          getenvDuration("STREAMPANEL_REAPER_INTERVAL", 15*time.Minute),
		LimitsInterval:          getenvDuration("STREAMPANEL_LIMITS_INTERVAL", 3*time.Hour),
		StatusInterval:          getenvDuration("STREAMPANEL_STATUS_INTERVAL", 5*time.Hour),
		OrphanInterval:          getenvDuration("STREAMPANEL_ORPHAN_INTERVAL", 12*time.Hour),
		IsProductionEnvironment: os.Getenv("STREAMPANEL_PRODUCTION") != "",
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// parseChatIds parses a comma-separated list of Telegram chat ids, skipping
// anything that doesn't parse rather than failing startup.
func parseChatIds(raw string) []int64 {
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
