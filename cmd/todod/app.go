package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"text/tabwriter"
	"time"

	"SmartTodo/internal/api"
	"SmartTodo/internal/auth"
	"SmartTodo/internal/config"
	"SmartTodo/internal/events"
	"SmartTodo/internal/observability/alerting"
	"SmartTodo/internal/observability/metrics"
	"SmartTodo/internal/realtime"
	"SmartTodo/internal/storage/sqldb"
	"SmartTodo/internal/todo"
	"SmartTodo/pkg/logger"
)

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("todod")

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, err := openBus(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer bus.Close()

	authSvc, err := auth.NewService(ctx, authConfig(cfg.Auth), nil)
	if err != nil {
		return fmt.Errorf("初始化认证失败: %w", err)
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout.Std()))
	}
	alerts := alerting.NewFanout(notifiers...)

	svc := todo.NewService(store, bus)
	hub := realtime.NewHub()

	opts := api.Options{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout.Std(),
		WriteTimeout:    cfg.Server.WriteTimeout.Std(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		opts.MetricsPath = cfg.Metrics.Path
	}
	server := api.NewServer(opts, svc, authSvc, hub, alerts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hub.Consume(ctx, bus); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("变更推送已停止", slog.Any("error", err))
		}
	}()
	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartServer(ctx, cfg.Metrics.Address, cfg.Metrics.Path); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务退出", slog.Any("error", err))
			}
		}()
	}

	log.Info("SmartTodo 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("auth", cfg.Auth.Mode),
	)
	err = server.Start(ctx)
	cancel()
	hub.Close()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("SmartTodo 已停止")
		return nil
	}
	return err
}

// openStore 根据配置选择内存或 SQL 存储，SQL 存储可按需自动迁移。
func openStore(ctx context.Context, cfg *config.Config) (todo.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return todo.NewMemoryStore(), nil
	}
	db, dialect, err := openDB(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.AutoMigrate {
		if err := sqldb.Migrate(ctx, db, dialect, logger.Named("migrate")); err != nil {
			db.Close()
			return nil, err
		}
	}
	return todo.NewSQLStore(db, dialect), nil
}

func openDB(ctx context.Context, storage config.StorageConfig) (*sql.DB, sqldb.Dialect, error) {
	dialect, err := sqldb.ParseDialect(storage.Driver)
	if err != nil {
		return nil, "", err
	}
	db, err := sqldb.Open(ctx, sqldb.Config{
		Dialect:         dialect,
		DSN:             storage.DSN,
		MaxOpenConns:    storage.MaxOpenConns,
		MaxIdleConns:    storage.MaxIdleConns,
		ConnMaxLifetime: storage.ConnMaxLifetime.Std(),
	})
	if err != nil {
		return nil, "", err
	}
	return db, dialect, nil
}

// openBus 创建事件总线，多实例部署时使用 redis 或 rabbitmq。
func openBus(ctx context.Context, cfg config.EventsConfig) (events.Bus, error) {
	switch cfg.Driver {
	case "memory":
		bus := events.NewMemoryBus(cfg.Buffer)
		bus.OnDrop = func(evt events.Event) {
			logger.Named("events").Warn("订阅者缓冲已满，丢弃事件", slog.String("type", string(evt.Type)))
		}
		return bus, nil
	case "redis":
		return events.NewRedisBus(ctx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
	case "rabbitmq":
		return events.NewRabbitMQBus(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Prefetch: cfg.RabbitMQ.Prefetch,
		})
	default:
		return nil, fmt.Errorf("未知的事件总线驱动: %s", cfg.Driver)
	}
}

func authConfig(cfg config.AuthConfig) auth.Config {
	seeds := make([]auth.Seed, 0, len(cfg.JWT.Users))
	for _, u := range cfg.JWT.Users {
		seeds = append(seeds, auth.Seed{ID: u.ID, Username: u.Username, Password: u.Password})
	}
	return auth.Config{
		Mode:          auth.Mode(cfg.Mode),
		AnonymousUser: cfg.AnonymousUser,
		Header:        cfg.Header,
		JWT: auth.JWTOptions{
			Secret:     cfg.JWT.Secret,
			Issuer:     cfg.JWT.Issuer,
			Audience:   cfg.JWT.Audience,
			AccessTTL:  cfg.JWT.AccessTTL.Std(),
			RefreshTTL: cfg.JWT.RefreshTTL.Std(),
		},
		OAuth: auth.OAuthOptions{
			TokenURL:         cfg.OAuth.TokenURL,
			IntrospectionURL: cfg.OAuth.IntrospectionURL,
			ClientID:         cfg.OAuth.ClientID,
			ClientSecret:     cfg.OAuth.ClientSecret,
			Scopes:           cfg.OAuth.Scopes,
			Timeout:          cfg.OAuth.Timeout.Std(),
		},
		Seeds: seeds,
	}
}

func migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Driver == "memory" {
		return errors.New("内存存储无需迁移")
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	db, dialect, err := openDB(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()
	return sqldb.Migrate(ctx, db, dialect, logger.Named("migrate"))
}

func printMigrationStatus(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.Storage.Driver == "memory" {
		return errors.New("内存存储没有迁移记录")
	}
	db, dialect, err := openDB(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()
	list, err := sqldb.Status(ctx, db, dialect)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tAPPLIED\tAPPLIED AT\tPATH")
	for _, st := range list {
		appliedAt := "-"
		if st.Applied && !st.AppliedAt.IsZero() {
			appliedAt = st.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%t\t%s\t%s\n", st.Version, st.Applied, appliedAt, st.Path)
	}
	return tw.Flush()
}
