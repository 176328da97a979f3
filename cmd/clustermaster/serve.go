package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-cluster-master/internal/api"
	"github.com/JakeFAU/crawl-cluster-master/internal/clock/system"
	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/config"
	"github.com/JakeFAU/crawl-cluster-master/internal/events"
	"github.com/JakeFAU/crawl-cluster-master/internal/events/sinks"
	"github.com/JakeFAU/crawl-cluster-master/internal/groupsettings"
	"github.com/JakeFAU/crawl-cluster-master/internal/id/uuid"
	"github.com/JakeFAU/crawl-cluster-master/internal/logging"
	"github.com/JakeFAU/crawl-cluster-master/internal/master"
	"github.com/JakeFAU/crawl-cluster-master/internal/metrics"
	"github.com/JakeFAU/crawl-cluster-master/internal/nodeclient"
	pubsubpublisher "github.com/JakeFAU/crawl-cluster-master/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-cluster-master/internal/statestore"
	filestore "github.com/JakeFAU/crawl-cluster-master/internal/statestore/file"
	gcsstore "github.com/JakeFAU/crawl-cluster-master/internal/statestore/gcs"
	memorystore "github.com/JakeFAU/crawl-cluster-master/internal/statestore/memory"
	pgstore "github.com/JakeFAU/crawl-cluster-master/internal/statestore/postgres"
	redisstore "github.com/JakeFAU/crawl-cluster-master/internal/statestore/redis"
)

const (
	shutdownTimeout = 10 * time.Second
	nodeCallTimeout = 30 * time.Second
)

// newServeCmd creates the "clustermaster serve" subcommand.
func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cluster master",
		Long:  "Loads configuration, connects to every configured node and serves the operator API\nuntil SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	store, closeStore, err := buildStateStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	store = statestore.Instrumented(cfg.Master.StateStore, store)

	var groups cluster.GroupSettings
	var groupProvider *groupsettings.Provider
	if cfg.GroupSettings.Enabled {
		groupProvider, err = groupsettings.Load(cfg.GroupSettings.File, logger)
		if err != nil {
			return fmt.Errorf("load group settings: %w", err)
		}
		groups = groupProvider
	}

	hub, err := buildEventHub(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("event hub close failed", zap.Error(err))
		}
	}()

	dialer := nodeclient.NewDialer(&http.Client{Timeout: nodeCallTimeout}, logger)
	sched := master.New(dialer, store, groups, hub, system.New(), master.Config{
		Nodes:           cfg.Master.Nodes,
		PollInterval:    cfg.PollInterval(),
		DefaultPriority: cfg.Master.DefaultPriority,
		GlobalSettings:  master.GlobalSettings(cfg.Master.GlobalSettings, cfg.Master.Settings),
		CallbackURL:     cfg.MasterCallbackURL(),
		DialTimeout:     cfg.DialTimeout(),
	}, logger)
	if err := sched.OnStart(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info("scheduler started", zap.Int("nodes", len(cfg.Master.Nodes)), zap.String("state_store", cfg.Master.StateStore))

	apiServer := api.NewServer(sched, cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if groupProvider != nil && cfg.GroupSettings.Watch {
		g.Go(func() error {
			return groupProvider.Watch(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.OnStop(stopCtx); err != nil {
		logger.Error("scheduler stop failed", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("stop scheduler: %w", err)
		}
	}
	logger.Info("shutdown complete")
	return runErr
}

// buildStateStore opens the configured backend. The returned func releases
// any client it created.
func buildStateStore(ctx context.Context, cfg config.Config) (cluster.StateStore, func(), error) {
	noop := func() {}
	switch cfg.Master.StateStore {
	case config.StoreFile:
		s, err := filestore.New(filestore.Config{Path: cfg.Master.StateFile})
		if err != nil {
			return nil, noop, fmt.Errorf("open file state store: %w", err)
		}
		return s, noop, nil
	case config.StoreMemory:
		return memorystore.New(), noop, nil
	case config.StorePostgres:
		s, err := pgstore.New(ctx, pgstore.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres state store: %w", err)
		}
		return s, s.Close, nil
	case config.StoreGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		closeFn := func() { _ = client.Close() }
		s, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.GCS.Bucket, Object: cfg.GCS.Object})
		if err != nil {
			closeFn()
			return nil, noop, fmt.Errorf("open gcs state store: %w", err)
		}
		return s, closeFn, nil
	case config.StoreRedis:
		s, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open redis state store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown state store %q", cfg.Master.StateStore)
	}
}

// buildEventHub wires the log and Prometheus sinks, plus Pub/Sub when a topic
// is configured.
func buildEventHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*events.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("register event collectors: %w", err)
	}
	hubSinks := []events.Sink{sinks.NewLogSink(logger), promSink}
	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("dial pubsub: %w", err)
		}
		hubSinks = append(hubSinks, sinks.NewPublisherSink(pub, cfg.PubSub.TopicName, pub.Close))
		logger.Info("publishing events", zap.String("topic", cfg.PubSub.TopicName))
	}
	return events.NewHub(events.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait(),
		Logger:         logger.Named("events"),
		IDs:            uuid.New(),
	}, hubSinks...), nil
}
