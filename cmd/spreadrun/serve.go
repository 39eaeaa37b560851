package main

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/spreadrun/internal/alerts"
	"github.com/sawpanic/spreadrun/internal/config"
	"github.com/sawpanic/spreadrun/internal/history"
	httpapi "github.com/sawpanic/spreadrun/internal/interfaces/http"
	"github.com/sawpanic/spreadrun/internal/stream"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and streaming server",
		Long: `Starts the REST API, the /scan/stream WebSocket endpoint and /metrics.
Continuous scanning starts immediately when stream.symbols is set and no
stream.start_cron schedule is configured.`,
		RunE: runServe,
	}
	cmd.Flags().String("host", "", "Override server.host")
	cmd.Flags().Int("port", 0, "Override server.port")
	cmd.Flags().StringSlice("symbols", nil, "Override stream.symbols")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if symbols, _ := cmd.Flags().GetStringSlice("symbols"); len(symbols) > 0 {
		cfg.Stream.Symbols = symbols
	}

	log.Debug().Interface("config", cfg.Redacted()).Msg("Effective configuration")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	hubCfg := stream.DefaultHubConfig()
	hubCfg.SendQueue = cfg.Stream.SendQueue
	hubCfg.PingInterval = cfg.Stream.PingInterval
	hubCfg.PongTimeout = cfg.Stream.PongTimeout
	hubCfg.WriteTimeout = cfg.Stream.WriteTimeout
	hub := stream.NewHub(hubCfg, c.filters, c.metrics)

	continuous := stream.NewContinuousScanner(stream.ContinuousConfig{
		Interval:          cfg.Stream.ScanInterval,
		MinRescanInterval: cfg.Stream.MinRescanInterval,
		RequestQueue:      cfg.Stream.RequestQueue,
		ResultTTL:         cfg.Cache.ResultTTL,
		Profile:           cfg.Scanner.Profile,
	}, c.scanner, c.filters, hub, c.metrics)

	alertCfg := alerts.DefaultConfig()
	alertCfg.Throttle = cfg.Alerts.Throttle
	alertCfg.Queue = cfg.Alerts.Queue
	alertManager, err := newAlertManager(alertCfg, cfg.Telegram, hub, c)
	if err != nil {
		return err
	}
	continuous.AddObserver(alertManager)

	deps := httpapi.Deps{
		Scanner:       c.scanner,
		Filters:       c.filters,
		Hub:           hub,
		Stream:        continuous,
		Alerts:        alertManager,
		Metrics:       c.metrics,
		Version:       version,
		StreamContext: ctx,
	}
	if c.breaker != nil {
		deps.Breaker = c.breaker
	}

	if cfg.Postgres.Enabled {
		recorder, err := history.Open(ctx, history.Config{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			QueryTimeout: cfg.Postgres.QueryTimeout,
		})
		if err != nil {
			return errors.New(config.RedactString(err.Error()))
		}
		defer recorder.Close()
		continuous.AddObserver(recorder)
		deps.History = recorder
		log.Info().Msg("Scan history recording enabled")
	}

	go hub.Run(ctx)
	go continuous.RunRequests(ctx)
	go alertManager.Run(ctx)

	scheduler, err := newScheduler(ctx, cfg, continuous, c)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	if len(cfg.Stream.Symbols) > 0 && cfg.Stream.StartCron == "" {
		if err := continuous.Start(ctx, cfg.Stream.Symbols); err != nil {
			return err
		}
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, deps)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	log.Info().
		Str("version", version).
		Str("addr", server.Address()).
		Str("preset", cfg.Filters.Preset).
		Msg("SpreadRun serving")

	select {
	case err = <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	if stopErr := continuous.Stop(); stopErr != nil && !errors.Is(stopErr, stream.ErrNotRunning) {
		log.Warn().Err(stopErr).Msg("Failed to stop continuous scanning")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("HTTP server shutdown incomplete")
	}
	cancel()
	return err
}

func newAlertManager(cfg alerts.Config, tg config.TelegramConfig, hub *stream.Hub, c *core) (*alerts.Manager, error) {
	m := alerts.NewManager(cfg, c.metrics)
	m.RegisterHandler(alerts.NewBroadcastHandler(hub))
	m.RegisterHandler(alerts.NewLogHandler())
	if tg.Enabled {
		h, err := alerts.NewTelegramHandler(tg.BotToken, tg.ChatID)
		if err != nil {
			return nil, err
		}
		m.RegisterHandler(h)
		log.Info().Int64("chat_id", tg.ChatID).Msg("Telegram alerts enabled")
	}
	for _, rule := range alerts.PresetRules() {
		if _, err := m.AddRule(rule); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// newScheduler registers cache housekeeping plus the optional stream
// start and stop schedules
func newScheduler(ctx context.Context, cfg *config.Config, continuous *stream.ContinuousScanner, c *core) (*cron.Cron, error) {
	scheduler := cron.New()

	if _, err := scheduler.AddFunc("@every 1m", func() {
		if n := c.scanner.Cache().Cleanup(); n > 0 {
			log.Debug().Int("evicted", n).Msg("Contract cache cleanup")
		}
	}); err != nil {
		return nil, err
	}

	if cfg.Stream.StartCron != "" {
		symbols := cfg.Stream.Symbols
		if _, err := scheduler.AddFunc(cfg.Stream.StartCron, func() {
			if err := continuous.Start(ctx, symbols); err != nil {
				log.Warn().Err(err).Msg("Scheduled stream start skipped")
				return
			}
			log.Info().Strs("symbols", symbols).Msg("Scheduled stream started")
		}); err != nil {
			return nil, err
		}
	}
	if cfg.Stream.StopCron != "" {
		if _, err := scheduler.AddFunc(cfg.Stream.StopCron, func() {
			if err := continuous.Stop(); err != nil {
				log.Warn().Err(err).Msg("Scheduled stream stop skipped")
				return
			}
			log.Info().Msg("Scheduled stream stopped")
		}); err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}
