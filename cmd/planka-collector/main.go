package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"planka-collector/collector"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "planka-collector",
		Usage: "Store Planka webhook notifications in SQLite and forward selected ones to WeCom",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file path.", Sources: cli.EnvVars("COLLECTOR_CONFIG")},
			&cli.StringFlag{Name: "db", Value: collector.DefaultDBPath, Usage: "SQLite database path.", Sources: cli.EnvVars("DB_PATH")},
			&cli.StringFlag{Name: "port", Value: collector.DefaultPort, Usage: "HTTP listen port.", Sources: cli.EnvVars("PORT")},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logs.", Sources: cli.EnvVars("DEBUG")},
			&cli.StringFlag{Name: "wecom-webhook", Usage: "WeCom group robot webhook URL. Empty disables forwarding.", Sources: cli.EnvVars("WECOM_WEBHOOK")},
			&cli.StringFlag{Name: "allowed-boards", Usage: "Comma-separated board names to forward (default EP).", Sources: cli.EnvVars("ALLOWED_BOARDS")},
			&cli.StringFlag{Name: "allowed-types", Usage: "Comma-separated event types to forward (default \"Card Moved,Card Created\").", Sources: cli.EnvVars("ALLOWED_TYPES")},
			&cli.DurationFlag{Name: "send-timeout", Value: collector.DefaultSendTimeout, Usage: "Timeout of one WeCom delivery.", Sources: cli.EnvVars("WECOM_TIMEOUT")},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(cmd *cli.Command) (collector.Config, error) {
	cfg := collector.DefaultConfig()

	// Base config from file (optional)
	if path := strings.TrimSpace(cmd.String("config")); path != "" {
		fileCfg, err := collector.LoadConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		fileCfg.Apply(&cfg)
	}

	// Flags and env vars override the file only when given.
	if cmd.IsSet("db") {
		cfg.DBPath = cmd.String("db")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.String("port")
	}
	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}
	if cmd.IsSet("wecom-webhook") {
		cfg.Forward.WebhookURL = strings.TrimSpace(cmd.String("wecom-webhook"))
	}
	if cmd.IsSet("allowed-boards") {
		cfg.Forward.Boards = collector.SplitList(cmd.String("allowed-boards"))
	}
	if cmd.IsSet("allowed-types") {
		cfg.Forward.EventTypes = collector.SplitList(cmd.String("allowed-types"))
	}
	if cmd.IsSet("send-timeout") {
		cfg.Forward.Timeout = cmd.Duration("send-timeout")
	}

	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("missing listen port")
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := collector.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := collector.OpenDB(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Fatal("database not ready", zap.String("db", cfg.DBPath), zap.Error(err))
	}
	store := collector.NewStore(db)
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := collector.NewMetrics(reg)

	forwarder := collector.NewForwarder(cfg.Forward, nil, logger.Named("forward"), metrics)
	svc := collector.NewCollector(store, forwarder, logger.Named("ingest"), metrics)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := collector.NewServer(svc, logger.Named("http"), reg, cfg.ListLimit)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("planka collector started",
		zap.String("port", cfg.Port),
		zap.String("db", cfg.DBPath),
		zap.Bool("forwarding", forwarder.Enabled()),
		zap.Strings("allowed_boards", cfg.Forward.Boards),
		zap.Strings("allowed_types", cfg.Forward.EventTypes))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}

	forwarder.Wait()
	logger.Info("server stopped")
	return nil
}
