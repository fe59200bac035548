package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"mcpchat/internal/agent"
	"mcpchat/internal/channel"
	"mcpchat/internal/config"
	"mcpchat/internal/domain"
	"mcpchat/internal/memory"
	"mcpchat/internal/metrics"
	"mcpchat/internal/provider"
	"mcpchat/internal/toolserver"
)

var (
	version      = "1.0.0"
	logger       *slog.Logger
	configPath   string // overridable via --config flag
	providerName string
	serversDir   string
	logLevel     string
	metricsOut   string
)

func main() {
	logger = newLogger("info")

	root := &cobra.Command{
		Use:   "mcpchat",
		Short: "Chat with an LLM that can call MCP tool servers",
		Long: `mcpchat connects to the MCP servers described in the server config
directory, then answers queries with DeepSeek or Anthropic, letting the model
call the discovered tools. Type "quit" to exit.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				logger = newLogger(logLevel)
			}
		},
		RunE: runChat,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.mcpchat/config.json)")
	root.PersistentFlags().StringVarP(&providerName, "provider", "p", "", "LLM backend: "+strings.Join(provider.Names(), " | ")+" (default from config: deepseek)")
	root.PersistentFlags().StringVar(&serversDir, "servers-dir", "", "directory of MCP server config files")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug | info | warn | error")
	root.Flags().StringVar(&metricsOut, "metrics-out", "", "write session metrics in Prometheus text format to this file on exit")

	root.AddCommand(serversCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file and applies flag overrides. A missing
// default config file falls back to built-in defaults.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if configPath != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger.Debug("config not found, using defaults", "path", cfgPath)
		cfg = config.Defaults()
		cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
	}

	if serversDir != "" {
		cfg.MCP.ServersDir = config.ExpandPath(serversDir)
	}
	if logLevel == "" && cfg.General.LogLevel != "" {
		logger = newLogger(cfg.General.LogLevel)
	}
	return cfg, nil
}

func newOrchestrator(cfg *config.Config, backend *provider.Backend, transcripts domain.TranscriptStore) *agent.Orchestrator {
	return agent.New(agent.Config{
		Registry: toolserver.NewRegistry(cfg.MCP.ServersDir, logger),
		Backend:  backend,
		Connect: agent.SessionConnector(
			toolserver.WithClientInfo(cfg.MCP.ClientName, cfg.MCP.ClientVersion),
			toolserver.WithCallTimeout(cfg.MCP.ToolTimeout()),
			toolserver.WithLogger(logger),
		),
		Transcripts:    transcripts,
		Logger:         logger,
		ConnectTimeout: cfg.MCP.ConnectTimeout(),
	})
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backend, err := provider.New(providerName, cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var transcripts domain.TranscriptStore
	if cfg.Memory.Enabled {
		store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
		if err != nil {
			logger.Warn("transcripts disabled", "path", cfg.Memory.DBPath, "err", err)
		} else {
			defer store.Close()
			transcripts = store
		}
	}

	orch := newOrchestrator(cfg, backend, transcripts)
	defer orch.Cleanup()

	if err := orch.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	logger.Info("using provider", "provider", backend.Name(), "servers", len(orch.Servers()))

	cli := channel.NewCLI(channel.CLIConfig{
		Processor: orch,
		Logger:    logger,
		Spinner:   isatty.IsTerminal(os.Stdout.Fd()),
	})
	err = cli.Run(ctx)
	reportMetrics(orch.Metrics())
	return err
}

func reportMetrics(m *metrics.Collector) {
	logger.Info("session summary",
		"queries", m.Queries.Value(),
		"failed", m.QueryFailures.Value(),
		"tool_calls", m.ToolCalls.Value(),
		"uptime", m.Uptime().Round(time.Second),
	)
	if metricsOut == "" {
		return
	}
	f, err := os.Create(config.ExpandPath(metricsOut))
	if err != nil {
		logger.Warn("cannot write metrics", "path", metricsOut, "err", err)
		return
	}
	defer f.Close()
	if err := m.WriteText(f); err != nil {
		logger.Warn("cannot write metrics", "path", metricsOut, "err", err)
	}
}

func serversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Connect to every configured MCP server and list its tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch := newOrchestrator(cfg, nil, nil)
			defer orch.Cleanup()
			if err := orch.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize: %w", err)
			}

			byServer := make(map[string][]domain.ToolDescriptor)
			for _, d := range orch.Catalog() {
				byServer[d.Server] = append(byServer[d.Server], d)
			}
			servers := orch.Servers()
			if len(servers) == 0 {
				fmt.Printf("No servers connected (config dir: %s)\n", cfg.MCP.ServersDir)
				return nil
			}
			for _, name := range servers {
				fmt.Printf("%s\n", name)
				for _, d := range byServer[name] {
					fmt.Printf("  - %-24s %s\n", d.Name, d.Description)
				}
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently processed queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
			if err != nil {
				return fmt.Errorf("memory store: %w", err)
			}
			defer store.Close()

			records, err := store.RecentQueries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No queries recorded yet.")
				return nil
			}
			for _, r := range records {
				fmt.Printf("[%s] %s (%s, %dms)\n", r.CreatedAt.Local().Format(time.DateTime), r.Query, r.Provider, r.LatencyMs)
				if len(r.ToolCalls) > 0 {
					fmt.Printf("  tools: %s\n", strings.Join(r.ToolCalls, ", "))
				}
				if r.Error != "" {
					fmt.Printf("  error: %s\n", r.Error)
				} else {
					fmt.Printf("  %s\n", r.Answer)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			cfg.Providers[provider.NameDeepSeek] = withKey(cfg.Providers[provider.NameDeepSeek], "${DEEPSEEK_API_KEY:-}")
			cfg.Providers[provider.NameAnthropic] = withKey(cfg.Providers[provider.NameAnthropic], "${ANTHROPIC_API_KEY:-}")
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	return cmd
}

func withKey(pc config.ProviderConfig, key string) config.ProviderConfig {
	pc.APIKey = key
	return pc
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcpchat v%s\n", version)
		},
	}
}
