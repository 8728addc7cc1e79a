package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/violence-watch/internal/alert"
	"github.com/vzahanych/violence-watch/internal/classifier"
	"github.com/vzahanych/violence-watch/internal/config"
	"github.com/vzahanych/violence-watch/internal/health"
	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/notify"
	"github.com/vzahanych/violence-watch/internal/service"
	"github.com/vzahanych/violence-watch/internal/state"
	"github.com/vzahanych/violence-watch/internal/stream"
	"github.com/vzahanych/violence-watch/internal/tracing"
	"github.com/vzahanych/violence-watch/internal/video"
	"github.com/vzahanych/violence-watch/internal/web"
	"github.com/vzahanych/violence-watch/internal/ws"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting violence watch",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"camera", cfg.Camera.URL,
	)
	log.Debug("Effective configuration", "config", cfg.Sanitized())

	cfgSvc, err := config.NewService(configPath, log)
	if err != nil {
		log.Error("Invalid configuration", "error", err)
		log.Sync()
		os.Exit(1)
	}

	if err := run(cfgSvc, log); err != nil {
		log.Error("Fatal error", "error", err)
		log.Sync()
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

func run(cfgSvc *config.Service, log *logger.Logger) error {
	cfg := cfgSvc.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(ctx, cfg.Tracing.Endpoint, version)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn("Failed to flush traces", "error", err)
			}
		}()
		log.Info("Tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	svcMgr := service.NewManager(log)

	ffmpeg, err := video.NewFFmpegWrapper(cfg.Camera.FFmpegPath, log)
	if err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}

	classifierClient := classifier.NewClient(classifier.ClientConfig{
		ServiceURL:  cfg.Classifier.ServiceURL,
		Timeout:     cfg.Classifier.Timeout,
		JPEGQuality: cfg.Stream.JPEGQuality,
	}, log)

	var sender notify.Sender = notify.Disabled{}
	smtpAddr := ""
	if cfg.SMTP.Enabled {
		smtpSender := notify.NewSMTPSender(notify.SMTPConfig{
			Host:           cfg.SMTP.Host,
			Port:           cfg.SMTP.Port,
			Username:       cfg.SMTP.Username,
			Password:       cfg.SMTP.Password,
			Timeout:        cfg.SMTP.Timeout,
			AllowPlaintext: cfg.SMTP.AllowPlaintext,
		}, log)
		sender = smtpSender
		smtpAddr = smtpSender.Addr()
	} else {
		log.Warn("Email alerts are disabled")
	}

	alertState := alert.NewState()
	monitor := alert.NewMonitor(classifierClient, sender, alertState, alert.PolicyFromConfig(cfg), log)
	monitor.SetEventBus(svcMgr.GetEventBus())

	cfgSvc.Watch(func(ctx context.Context, oldConfig, newConfig *config.Config) error {
		monitor.SetPolicy(alert.PolicyFromConfig(newConfig))
		if oldConfig.Camera.URL != newConfig.Camera.URL || oldConfig.SMTP != newConfig.SMTP {
			log.Warn("Camera and SMTP changes take effect after restart")
		}
		return nil
	})

	stateMgr, err := state.NewManager(cfg.DatabasePath(), log)
	if err != nil {
		return fmt.Errorf("episode store: %w", err)
	}
	defer stateMgr.Close()

	pipeline := stream.NewPipeline(video.NewFFmpegOpener(ffmpeg, log), monitor, stream.PipelineConfig{
		URL:          cfg.Camera.URL,
		JPEGQuality:  cfg.Stream.JPEGQuality,
		ViewerBuffer: cfg.Stream.ViewerBuffer,
	}, log)

	hub := ws.NewStatusHub(alertState, log)

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewFFmpegChecker(ffmpeg))
	healthMgr.RegisterChecker(health.NewClassifierChecker(classifierClient, cfg.Classifier.ServiceURL))
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr))
	healthMgr.RegisterChecker(health.NewNotifierChecker(cfg.SMTP.Enabled, smtpAddr))
	healthMgr.RegisterChecker(health.NewStorageChecker(cfg.App.DataDir))

	server := web.NewServer(cfg.Web, web.Dependencies{
		Feed:      pipeline,
		Alerts:    alertState,
		Episodes:  stateMgr,
		Health:    healthMgr,
		StatusHub: hub,
	}, log)
	server.SetVersion(version)

	// consumers first so no event published once the listener is up is missed
	svcMgr.Register(state.NewRecorder(stateMgr, log))
	svcMgr.Register(hub)
	svcMgr.Register(pipeline)
	svcMgr.Register(server)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	startErr := svcMgr.Start(ctx)
	if startErr == nil {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				log.Info("Reloading configuration")
				if err := cfgSvc.Reload(ctx); err != nil {
					log.Error("Configuration reload failed", "error", err)
				}
				continue
			}
			log.Info("Received shutdown signal", "signal", sig)
			break
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	return startErr
}
