package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"autoposter/internal/broker"
	"autoposter/internal/config"
	"autoposter/internal/database"
	"autoposter/internal/domain"
	"autoposter/internal/events"
	"autoposter/internal/logging"
	"autoposter/internal/models"
	"autoposter/internal/repository"
	"autoposter/internal/scheduler"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Core holds the collaborators shared by the API and worker processes.
type Core struct {
	Config     *config.Config
	Logger     *zerolog.Logger
	DB         *database.DB
	Redis      *redis.Client
	Dispatcher *broker.Dispatcher
	Guard      domain.DayGuard
	Events     *events.EventBus
	Scheduler  *scheduler.Scheduler

	closers []io.Closer
}

// LoadConfigAndLogger reads CONFIG_PATH (default configs/config.yaml) and
// builds the root logger tagged with the process component.
func LoadConfigAndLogger(component string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, component), closer, nil
}

// NewCore opens the store and the broker connection and wires the scheduler.
// Redis being down is not fatal for the day guard; the broker itself will
// report unavailability on first use.
func NewCore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Core, error) {
	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	c := &Core{Config: cfg, Logger: logger, DB: db, closers: []io.Closer{db}}

	c.Redis = initRedis(ctx, cfg, logger)
	if c.Redis != nil {
		c.closers = append(c.closers, c.Redis)
	}

	c.Dispatcher = broker.NewDispatcher(broker.RedisOpt(cfg.Redis), cfg.Broker, cfg.Worker.MaxRetry, logging.Component(logger, "broker"))
	c.closers = append(c.closers, c.Dispatcher)

	c.Guard = initDayGuard(c.Redis, logger)

	c.Events = events.NewEventBus()
	c.Events.Subscribe(events.Any, events.LogHandler(logging.Component(logger, "events")))

	c.Scheduler = scheduler.New(scheduler.Deps{
		Tasks:      db,
		Accounts:   db,
		Dispatcher: c.Dispatcher,
		Guard:      c.Guard,
		Events:     c.Events,
		Queue:      cfg.Broker.Queue,
	}, cfg.Scheduler, logging.Component(logger, "scheduler"))

	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			c.Logger.Warn().Err(err).Msg("close failed")
		}
	}
}

// StartBackups runs the periodic SQLite backup until ctx is done.
func (c *Core) StartBackups(ctx context.Context) {
	if !c.Config.Backup.Enabled {
		return
	}
	svc := database.NewBackupService(c.DB, c.Config.Backup, logging.Component(c.Logger, "backup"))
	go svc.Start(ctx)
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	client := repository.NewRedisClient(cfg.Redis)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Broker.PingTimeout)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, day guard falls back to memory")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initDayGuard(client *redis.Client, logger *zerolog.Logger) domain.DayGuard {
	ttl := models.DayGuardTTLHours * time.Hour
	memory := repository.NewMemoryDayGuard(ttl)
	if client == nil {
		return memory
	}
	return repository.NewFailoverDayGuard(repository.NewRedisDayGuard(client, ttl), memory, logging.Component(logger, "day-guard"))
}
