package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"digitaltwin/internal/channel"
	"digitaltwin/internal/config"
	"digitaltwin/internal/domain"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "digitaltwin",
		Short: "Digital twin: interview-style answers grounded in a professional profile",
		Long:  "digitaltwin answers questions about a professional profile in first person, over HTTP, MCP, Telegram and a terminal REPL.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.digitaltwin/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(askCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// startApp loads config, configures logging and wires the app.
func startApp() (*app, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := buildApp(cfg)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		closeLog()
	}, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Set GROQ_API_KEY, UPSTASH_VECTOR_REST_URL and UPSTASH_VECTOR_REST_TOKEN (or edit the config), then run 'digitaltwin ingest <profile.json>'.")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (chat, MCP, health) and Telegram when enabled",
		Long:  "Starts the web server and any enabled channels. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, cleanup, err := startApp()
	if err != nil {
		return err
	}
	defer cleanup()
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Knowledge.Watch && cfg.General.ProfilePath != "" {
		go func() {
			if err := a.knowledgeEngine().Watch(ctx, cfg.General.ProfilePath); err != nil {
				logger.Error("profile watcher error", "err", err)
			}
		}()
	}

	var channels []domain.Channel
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
			Twin:      a.twin,
			Logger:    logger,
		}))
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	webCfg := channel.WebConfig{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Twin:       a.twin,
		Health:     a.health,
		Config:     cfg,
		CORSOrigin: cfg.Server.CORSOrigin,
		Version:    version,
		Logger:     logger,
	}
	if cfg.Metrics.Enabled {
		webCfg.MetricsPath = cfg.Metrics.Endpoint
	}
	if a.store != nil {
		webCfg.Queries = a.store
	}
	webCh := channel.NewWeb(webCfg)
	channels = append(channels, webCh)

	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	logger.Info("dependencies", "status", healthSummary(a.health(statusCtx)))
	cancel()

	errCh := make(chan error, len(channels))
	for _, ch := range channels {
		go func(ch domain.Channel) {
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
		}(ch)
	}
	logger.Info("digital twin started. Press Ctrl+C to stop.", "interview_types", strings.Join(a.registry.Types(), ","))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		webCh.Stop()
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func askCmd() *cobra.Command {
	var (
		interviewType string
		basic         bool
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := startApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			resp, err := a.twin.Ask(ctx, domain.PipelineRequest{
				Question:      strings.Join(args, " "),
				Enhanced:      !basic,
				InterviewType: interviewType,
			})
			if err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(resp, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Println(resp.Answer)
			for _, s := range resp.Sources {
				fmt.Printf("  - %s (%s, %.2f)\n", s.Title, s.Type, s.Score)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&interviewType, "type", "t", "", "interview type (technical, behavioral, screening, hiring_manager, executive)")
	cmd.Flags().BoolVar(&basic, "basic", false, "skip query enhancement")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response with metadata")
	return cmd
}

func chatCmd() *cobra.Command {
	var (
		interviewType string
		basic         bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive interview session in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := startApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stat, _ := os.Stdin.Stat()
			cli := channel.NewCLI(channel.CLIConfig{
				Twin:          a.twin,
				Logger:        logger,
				Enhanced:      !basic,
				InterviewType: interviewType,
				Spinner:       stat != nil && stat.Mode()&os.ModeCharDevice != 0,
			})
			return cli.Start(ctx)
		},
	}
	cmd.Flags().StringVarP(&interviewType, "type", "t", "", "initial interview type")
	cmd.Flags().BoolVar(&basic, "basic", false, "skip query enhancement")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Long:  "Reads newline-delimited JSON-RPC from stdin and writes responses to stdout. Logs go to stderr or the configured log file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := startApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := channel.NewMCPServer(channel.MCPConfig{Twin: a.twin, Version: version, Logger: logger})
			return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
		},
	}
}

func ingestCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "ingest [profile]",
		Short: "Load a profile (JSON, YAML or HTML) and upsert its chunks into every index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := startApp()
			if err != nil {
				return err
			}
			defer cleanup()

			path := a.cfg.General.ProfilePath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no profile given and general.profilePath is not set")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := a.knowledgeEngine()
			report, err := engine.Ingest(ctx, path)
			if report != nil {
				fmt.Printf("Loaded %d chunks, indexed %d\n", report.Loaded, report.Indexed)
				for name, n := range report.Targets {
					fmt.Printf("  - %s: %d\n", name, n)
				}
			}
			if err != nil {
				return err
			}
			if watch {
				fmt.Println("Watching for changes. Press Ctrl+C to stop.")
				return engine.Watch(ctx, path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-ingest when the file changes")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show providers, indexes and query log status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := startApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			fmt.Printf("Digital twin v%s\n", version)
			fmt.Printf("Config:     %s\n", resolveConfigPath())
			fmt.Printf("Preference: %s\n", a.cfg.Providers.Preference)
			fmt.Printf("Retrieval:  %s (topK %d)\n", a.cfg.Retrieval.Backend, a.cfg.Retrieval.TopK)
			fmt.Printf("Interview:  %s\n", strings.Join(a.registry.Types(), ", "))
			fmt.Println("Dependencies:")
			for name, err := range a.health(ctx) {
				if err != nil {
					fmt.Printf("  %-14s down (%v)\n", name, err)
					continue
				}
				fmt.Printf("  %-14s ok\n", name)
			}
			if a.store != nil {
				chunks, _ := a.store.ChunkCount(ctx)
				queries, _ := a.store.QueryCount(ctx)
				fmt.Printf("Store:      %d chunks, %d logged queries\n", chunks, queries)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. retrieval.topK)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. providers.preference local)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
