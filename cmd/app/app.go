package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/api"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/audittrail"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/config"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/db"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/logger"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/store"
)

const configPath = "./cmd/app/config.yml"

func Start() error {
	loader := config.NewLoader(configPath)
	conf, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to initialize config -> %w", err)
	}

	if err = logger.Init(conf.API.Environment); err != nil {
		return fmt.Errorf("failed to initialize logger -> %w", err)
	}
	if err = logger.SetLevel(conf.API.LogLevel); err != nil {
		return fmt.Errorf("failed to set log level -> %w", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	var postgresDB *gorm.DB
	if dbURL != "" {
		postgresDB, err = db.OpenPostgresWithURL(dbURL)
	} else {
		postgresDB, err = db.OpenPostgres(conf.Postgres)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database -> %w", err)
	}

	ctx := context.Background()
	backends, cleanup, err := initBackends(ctx, conf)
	if err != nil {
		return fmt.Errorf("failed to initialize backends -> %w", err)
	}
	defer cleanup()

	s, err := api.NewServer(conf, postgresDB, backends)
	if err != nil {
		return fmt.Errorf("failed to initialize server -> %w", err)
	}

	loader.Watch(func(c *config.AppConfig) {
		if err := logger.SetLevel(c.API.LogLevel); err != nil {
			zap.L().Warn("ignoring log level", zap.String("log_level", c.API.LogLevel), zap.Error(err))
		}
		s.Service.SetAdvanceDelay(c.Audit.AutoAdvanceDelay)
		zap.L().Info("config reloaded",
			zap.String("log_level", c.API.LogLevel),
			zap.Duration("auto_advance_delay", c.Audit.AutoAdvanceDelay),
		)
	}, func(err error) {
		zap.L().Warn("config reload failed", zap.Error(err))
	})

	addr := ":" + s.Config.API.Port
	zap.L().Info(fmt.Sprintf("starting server at %v", addr))
	if err = s.Router.Run(addr); err != nil {
		return fmt.Errorf("failed to start the server -> %w", err)
	}

	return nil
}

// initBackends uses Redis for drafts and apply locks when configured, and
// publishes applied reconciliations to Pub/Sub when a topic is set.
func initBackends(ctx context.Context, conf *config.AppConfig) (api.Backends, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	backends := api.Backends{
		Drafts: store.NewMemorySessionStore(),
		Locker: store.NewMemoryLocker(),
	}
	notifiers := audittrail.Multi{audittrail.LogNotifier{}}

	if conf.Redis != nil && conf.Redis.Addr != "" {
		client, err := store.NewRedisClient(ctx, conf.Redis.Addr, conf.Redis.Password, conf.Redis.DB)
		if err != nil {
			return api.Backends{}, func() {}, fmt.Errorf("store.NewRedisClient -> %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })

		backends.Drafts = store.NewRedisSessionStore(client, conf.Redis.SessionTTL)
		backends.Locker = store.NewRedisLocker(client)
		zap.L().Info("audit drafts stored in redis", zap.String("addr", conf.Redis.Addr))
	} else {
		zap.L().Warn("redis not configured, audit drafts are kept in memory")
	}

	if conf.PubSub != nil && conf.PubSub.Topic != "" {
		client, err := audittrail.NewPubSubClient(ctx, conf.PubSub.ProjectID, conf.PubSub.CredentialsJSON)
		if err != nil {
			cleanup()
			return api.Backends{}, func() {}, fmt.Errorf("audittrail.NewPubSubClient -> %w", err)
		}
		publisher := audittrail.NewPubSubNotifier(client, conf.PubSub.Topic)
		closers = append(closers, func() {
			publisher.Stop()
			_ = client.Close()
		})
		notifiers = append(notifiers, publisher)
	}
	backends.Notifier = notifiers

	return backends, cleanup, nil
}
