// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard"
	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard/cache"
	"github.com/lsst-dm/ctrl-joboffice/internal/broker"
	"github.com/lsst-dm/ctrl-joboffice/internal/config"
	"github.com/lsst-dm/ctrl-joboffice/internal/joboffice"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
	"github.com/lsst-dm/ctrl-joboffice/internal/reaper"
	"github.com/lsst-dm/ctrl-joboffice/internal/redisclient"
	"github.com/lsst-dm/ctrl-joboffice/internal/scheduler"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/joboffice.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	bb, err := blackboard.Open(cfg.Persist.Dir)
	if err != nil {
		logger.Fatal("open blackboard", obs.Err(err))
	}

	brokerURL := fmt.Sprintf("nats://%s:%d", cfg.Listen.BrokerHostName, cfg.Listen.BrokerHostPort)
	br, err := broker.Connect(brokerURL, logger)
	if err != nil {
		logger.Fatal("connect broker", obs.Err(err))
	}
	defer br.Close()

	sched, err := buildScheduler(cfg)
	if err != nil {
		logger.Fatal("build scheduler", obs.Err(err))
	}

	dataReadyTopic := cfg.Listen.JobOfficeEvent
	if len(cfg.Listen.DataReadyEvent) > 0 {
		dataReadyTopic = cfg.Listen.DataReadyEvent[0]
	}
	jo, err := joboffice.New(joboffice.Config{
		Name:  cfg.Name,
		RunID: cfg.RunID,
		Topics: joboffice.Topics{
			DataReady: dataReadyTopic,
			Pipeline:  cfg.Listen.PipelineEvent,
			Stop:      cfg.Listen.StopEvent,
			JobOffice: cfg.Listen.JobOfficeEvent,
		},
		InitialWait:   cfg.Listen.InitialWait,
		EmptyWait:     cfg.Listen.EmptyWait,
		HighWatermark: cfg.Listen.HighWatermark,
		StopWaitTime:  cfg.Listen.StopWaitTime,
	}, bb, br, sched, logger)
	if err != nil {
		logger.Fatal("create job office", obs.Err(err))
	}

	readyCheck := func(context.Context) error { return nil }
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs.StartQueueLengthUpdater(ctx, cfg, bb)

	rep := reaper.New(bb, logger, 30*time.Minute, time.Minute)
	go rep.Run(ctx)

	if summary, err := reaper.NewSummary(bb, logger, cfg.Observability.SummaryCron); err != nil {
		logger.Warn("summary schedule disabled", obs.Err(err))
	} else if summary != nil {
		go summary.Run(ctx)
	}

	if rdb := redisclient.New(cfg); rdb != nil {
		defer rdb.Close()
		mirror := cache.New(rdb, "", cfg.Observability.QueueSampleInterval*5)
		interval := cfg.Observability.QueueSampleInterval
		if interval <= 0 {
			interval = 2 * time.Second
		}
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := mirror.SyncDepths(ctx, bb); err != nil {
						logger.Debug("cache mirror sync failed", obs.Err(err))
					}
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	jo.StartStopListener(ctx)
	if err := jo.Run(ctx); err != nil {
		logger.Fatal("job office run error", obs.Err(err))
	}
}

func buildScheduler(cfg *config.Config) (joboffice.Scheduler, error) {
	inputTriggers, err := scheduler.BuildTriggers(cfg.Schedule.Input)
	if err != nil {
		return nil, fmt.Errorf("build input triggers: %w", err)
	}
	outputTriggers, err := scheduler.BuildTriggers(cfg.Schedule.Output)
	if err != nil {
		return nil, fmt.Errorf("build output triggers: %w", err)
	}
	name := scheduler.BuildNameConfig(cfg.Schedule.Name)

	if cfg.Schedule.ClassName == "ButlerTriggeredScheduler" {
		triggers, err := scheduler.BuildTriggers(cfg.Schedule.Trigger)
		if err != nil {
			return nil, fmt.Errorf("build triggers: %w", err)
		}
		butlerTriggers := make([]scheduler.ButlerTrigger, 0, len(triggers))
		for _, t := range triggers {
			butlerTriggers = append(butlerTriggers, scheduler.NewConfiguredButlerTrigger(t))
		}
		return scheduler.NewButlerTriggered(butlerTriggers, inputTriggers, outputTriggers, name, cfg.Retry.Max), nil
	}

	triggers, err := scheduler.BuildTriggers(cfg.Schedule.Trigger)
	if err != nil {
		return nil, fmt.Errorf("build triggers: %w", err)
	}
	identity := scheduler.BuildIdentityConfig(cfg.Schedule.Identity)
	return scheduler.New(triggers, inputTriggers, outputTriggers, identity, name, cfg.Retry.Max), nil
}
