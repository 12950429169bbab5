package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/agent"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/analytics"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/api"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/circuitbreaker"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/config"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/cron"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/dispatcher"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/metrics"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/monitor"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/scheduler"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/store"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/transport/channel"
)

func runServe(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	settings, err := cfg.AgentSettings()
	if err != nil {
		return configError(err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, gateway, err := openGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := registry.New()
	builder := agent.NewBuilder(gateway, settings, logger)
	if err := builder.Populate(reg); err != nil {
		return err
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
		logger.Info().Str("path", cfg.MetricsPath).Str("port", cfg.MetricsPort).Msg("agentd: metrics enabled")
	}

	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	runLog := store.NewRunLog(db, cfg.DBOpTimeout)
	sinks := []dispatcher.Sink{
		dispatcher.NewLogSink(logger),
		runLog,
	}

	var redisSink *analytics.RedisSink
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		redisSink = analytics.NewRedisSink(client, domain.AnalyticsConfig{
			Enabled:   true,
			Window:    time.Hour,
			Retention: cfg.AnalyticsRetention,
		})
		sinks = append(sinks, redisSink)
		logger.Info().Str("redis", cfg.RedisAddr).Msg("agentd: analytics enabled")
	}

	if cfg.AlertWebhookURL != "" {
		alerts := dispatcher.NewAlertSink(domain.AlertConfig{
			WebhookURL: cfg.AlertWebhookURL,
			Secret:     cfg.AlertWebhookSecret,
			Timeout:    cfg.AlertWebhookTimeout,
		}, dispatcher.NewHTTPWebhookSender()).WithLogger(logger)
		if metricsSink != nil {
			alerts = alerts.WithMetrics(metricsSink)
		}
		sinks = append(sinks, alerts)
	}

	disp := dispatcher.New(sinks...).
		WithDrainTimeout(cfg.DispatcherDrainTimeout).
		WithLogger(logger)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}

	sched := scheduler.New(
		scheduler.Config{
			TickInterval:   cfg.TickInterval,
			Timezone:       cfg.SchedulerTimezone,
			SlowRunWarning: cfg.SlowRunWarning,
		},
		cronParserAdapter{parser: cron.NewParser()},
		reg,
		bus,
	).WithLogger(logger)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}
	if err := registerTriggers(sched, cfg, settings.Triggers); err != nil {
		return err
	}

	mon := monitor.New(monitor.Config{Interval: cfg.HealthInterval}, reg).WithLogger(logger)
	if metricsSink != nil {
		mon = mon.WithMetrics(metricsSink)
	}

	apiHandler := api.NewHandler(sched, reg).
		WithFactory(builder).
		WithRunLog(runLog).
		WithMonitor(mon).
		WithHealthChecker("database", gateway).
		WithLogger(logger)
	if redisSink != nil {
		apiHandler = apiHandler.WithHealthChecker("redis", redisSink)
	}

	mux := http.NewServeMux()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		if cfg.MetricsPort == "" {
			mux.Handle(cfg.MetricsPath, promhttp.Handler())
		} else {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
		}
	}
	mux.Handle("/", apiHandler)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	if err := sched.Start(context.Background()); err != nil {
		return configError(err)
	}

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("agentd: http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info().Str("addr", metricsServer.Addr).Msg("agentd: metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	dispatcherDone := make(chan struct{})
	g.Go(func() error {
		defer close(dispatcherDone)
		disp.Run(dispatcherCtx, bus.Channel())
		return nil
	})

	g.Go(func() error {
		mon.Run(gctx)
		return nil
	})

	logger.Info().
		Dur("tick", cfg.TickInterval).
		Str("timezone", cfg.SchedulerTimezone).
		Int("triggers", len(sched.Triggers())).
		Strs("sinks", disp.Sinks()).
		Msg("agentd: started")

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("agentd: shutting down")

		// Phase 1: stop firing, then let in-flight runs report.
		sched.Stop()
		waitCtx, cancelWait := context.WithTimeout(context.Background(), cfg.DispatcherDrainTimeout)
		if err := sched.Wait(waitCtx); err != nil {
			logger.Warn().Err(err).Msg("agentd: in-flight runs still running at shutdown")
		}
		cancelWait()
		logger.Info().Msg("agentd: scheduler stopped")

		// Phase 2: close the bus and drain buffered reports into the sinks.
		bus.Close()
		cancelDispatcher()
		<-dispatcherDone
		logger.Info().Msg("agentd: dispatcher stopped")

		// Phase 3: stop serving.
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("agentd: http server shutdown error")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("agentd: metrics server shutdown error")
			}
		}

		// Phase 4: dispose of the agents.
		if err := reg.Close(); err != nil {
			logger.Error().Err(err).Msg("agentd: closing agents")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("agentd: stopped")
	return nil
}
