package main

import (
	"context"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/testbot/config"
	"github.com/isdmx/testbot/envcache"
	"github.com/isdmx/testbot/executor"
	"github.com/isdmx/testbot/logger"
	"github.com/isdmx/testbot/master"
	"github.com/isdmx/testbot/metrics"
	"github.com/isdmx/testbot/queue"
	"github.com/isdmx/testbot/sandbox"
	"github.com/isdmx/testbot/worker"
)

// coreOptions provides everything needed to run a job.
func coreOptions(configFile string) fx.Option {
	return fx.Options(
		fx.Provide(
			// Config
			func() (*config.Config, error) {
				return config.New(configFile)
			},

			// Logger with configuration
			logger.NewFromConfig,

			newMasterClient,
			newLayout,
			metrics.New,
			newCache,
			newEngines,
			newRegistry,
			newAdapter,
		),

		// Use the application logger for fx logs
		fx.WithLogger(logger.NewFxLogger),
	)
}

// serveOptions adds the queue consumer and the metrics endpoint, both bound
// to the fx lifecycle.
func serveOptions(configFile string) fx.Option {
	return fx.Options(
		coreOptions(configFile),
		fx.Provide(
			newConsumer,
			newMetricsServer,
		),
		fx.Invoke(registerHooks),
	)
}

func newMasterClient(cfg *config.Config, log *zap.Logger) (*master.Client, error) {
	return master.NewClient(master.ClientConfig{
		BaseURL:  cfg.Master.URL,
		Name:     cfg.Master.Name,
		Password: cfg.Master.Password,
		Timeout:  cfg.GetMasterTimeout(),
	}, log.Named("master"))
}

// newLayout creates the data folder tree before anything else touches it.
func newLayout(cfg *config.Config) (executor.Layout, error) {
	layout := executor.Layout{DataFolder: cfg.DataFolder}
	if err := layout.EnsureDirs(master.Kinds); err != nil {
		return executor.Layout{}, err
	}
	return layout, nil
}

func newCache(layout executor.Layout, client *master.Client, m *metrics.Metrics, log *zap.Logger) (*envcache.Cache, error) {
	return envcache.New(layout.CacheRoot(), client, log.Named("envcache"), envcache.WithObserver(m))
}

func newEngines(cfg *config.Config, log *zap.Logger) (*sandbox.Docker, *sandbox.Script) {
	return sandbox.NewEngines(log.Named("sandbox"), sandbox.Config{
		DockerBinary: cfg.Docker.Binary,
		Shell:        cfg.Script.Shell,
	})
}

func newRegistry(
	cfg *config.Config,
	log *zap.Logger,
	client *master.Client,
	layout executor.Layout,
	cache *envcache.Cache,
	docker *sandbox.Docker,
	script *sandbox.Script,
) *worker.Registry {
	hostname, err := os.Hostname()
	if err != nil {
		log.Warn("failed to resolve hostname", zap.Error(err))
		hostname = "unknown"
	}
	return worker.DefaultRegistry(worker.Components{
		Deps: executor.Deps{
			Master:   client,
			Layout:   layout,
			Logger:   log.Named("executor"),
			Hostname: hostname,
			PID:      os.Getpid(),
		},
		Cache:         cache,
		Engine:        docker,
		Script:        script,
		PlagiarismAPI: cfg.AntiPlagiarism.API,
		HTTPClient:    &http.Client{Timeout: cfg.GetMasterTimeout()},
	})
}

func newAdapter(registry *worker.Registry, client *master.Client, m *metrics.Metrics, log *zap.Logger) *worker.Adapter {
	return worker.NewAdapter(registry, client, log.Named("worker"), worker.WithRecorder(m))
}

func newConsumer(cfg *config.Config, adapter *worker.Adapter, log *zap.Logger) *queue.Consumer {
	return queue.NewConsumer(queue.Config{
		URL:           cfg.Queue.URL,
		SubjectPrefix: cfg.Queue.SubjectPrefix,
		Group:         cfg.Queue.Group,
		Concurrency:   cfg.Queue.Concurrency,
	}, adapter, log.Named("queue"))
}

func newMetricsServer(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *metrics.Server {
	return metrics.NewServer(cfg.Metrics.Addr, m, log.Named("metrics"))
}

func registerHooks(lc fx.Lifecycle, consumer *queue.Consumer, server *metrics.Server, log *zap.Logger) {
	// Hooks stop in reverse order: the consumer drains before the logger syncs.
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	lc.Append(fx.Hook{
		OnStart: server.Start,
		OnStop:  server.Stop,
	})
	lc.Append(fx.Hook{
		OnStart: consumer.Start,
		OnStop:  consumer.Stop,
	})
}
