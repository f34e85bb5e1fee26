package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/streampanel/streampanel/internal/audit"
	"github.com/streampanel/streampanel/internal/config"
	"github.com/streampanel/streampanel/internal/database"
	"github.com/streampanel/streampanel/internal/lockset"
	"github.com/streampanel/streampanel/internal/notify"
	"github.com/streampanel/streampanel/internal/provision"
	"github.com/streampanel/streampanel/internal/reconcile"
	"github.com/streampanel/streampanel/internal/remote"
	"github.com/streampanel/streampanel/internal/scheduler"
	"github.com/streampanel/streampanel/internal/server"
)

var ReleaseVersion string = "UNKNOWN"

func isTestEnvironment() bool {
	return os.Getenv("STREAMPANEL_TEST") != ""
}

func openDb(cfg config.Config) (*database.DB, error) {
	if cfg.PostgresDb != "" {
		return database.OpenPostgres(cfg.PostgresDb, &gorm.Config{})
	}
	return database.OpenSQLite(cfg.SqlitePath, &gorm.Config{})
}

func buildLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	if isTestEnvironment() || cfg.AppLogPath == "" {
		return log
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   cfg.AppLogPath,
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     90,
	})
	return log
}

// buildNotifier merges the statically configured admin chats with the
// admin-role panel users stored in the DB, so promoting a user to admin is
// enough for them to start receiving reports.
func buildNotifier(ctx context.Context, cfg config.Config, db *database.DB, log *logrus.Logger) notify.Notifier {
	if cfg.TelegramBotToken == "" {
		return notify.NewLogNotifier(log)
	}
	chatIds := cfg.TelegramAdminChats
	dbChatIds, err := db.AdminChatIds(ctx)
	if err != nil {
		log.Warnf("failed to look up admin chat ids: %v", err)
	}
	for _, id := range dbChatIds {
		if !slices.Contains(chatIds, id) {
			chatIds = append(chatIds, id)
		}
	}
	if len(chatIds) == 0 {
		return notify.NewLogNotifier(log)
	}
	return notify.NewTelegramNotifier(cfg.TelegramBotToken, chatIds)
}

func main() {
	ctx := context.Background()
	cfg := config.FromEnv()

	db, err := openDb(cfg)
	if err != nil {
		panic(fmt.Errorf("failed to connect to the DB: %w", err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		panic(fmt.Errorf("failed to ping the DB: %w", err))
	}
	if err := db.SetMaxIdleConns(10); err != nil {
		panic(fmt.Errorf("failed to set max idle conns: %w", err))
	}
	if err := db.AddDatabaseTables(); err != nil {
		panic(fmt.Errorf("failed to add database tables: %w", err))
	}
	if err := db.CreateIndices(); err != nil {
		panic(fmt.Errorf("failed to create indices: %w", err))
	}

	log := buildLogger(cfg)
	if numServers, err := db.CountActiveServers(ctx); err == nil {
		log.Infof("managing %d active servers", numServers)
	}
	auditLog := audit.Get(cfg.AuditLogPath)
	locks := lockset.New()
	backends := remote.Backends()
	notifier := buildNotifier(ctx, cfg, db, log)

	var statsdClient *statsd.Client
	if cfg.StatsdAddr != "" {
		statsdClient, err = statsd.New(cfg.StatsdAddr)
		if err != nil {
			log.Warnf("failed to start DataDog statsd client: %v", err)
		}
	}

	engine := reconcile.NewEngine(db, locks, backends,
		reconcile.WithStatsd(statsdClient),
		reconcile.WithNotifier(notifier),
		reconcile.WithAuditLog(auditLog),
		reconcile.WithLogger(log),
	)
	provisioner := provision.NewService(db, locks, backends, auditLog, log)

	if !cfg.SchedulerDisabled {
		sched := scheduler.New(engine, scheduler.Intervals{
			Reaper: cfg.ReaperInterval,
			Limits: cfg.LimitsInterval,
			Status: cfg.StatusInterval,
			Orphan: cfg.OrphanInterval,
		}, log)
		if err := sched.Start(); err != nil {
			panic(fmt.Errorf("failed to start the scheduler: %w", err))
		}
		defer sched.Stop()
	}

	srv := server.NewServer(db, engine,
		server.WithProvisioner(provisioner),
		server.WithStatsd(statsdClient),
		server.WithReleaseVersion(ReleaseVersion),
		server.IsProductionEnvironment(cfg.IsProductionEnvironment),
		server.IsTestEnvironment(isTestEnvironment()),
	)
	if err := srv.Run(ctx, cfg.Addr); err != nil {
		panic(err)
	}
}
