// ABOUTME: Entry point for the flyme travel search bot
// ABOUTME: Loads config, wires transport, router, agent and ledger, and drains on SIGINT/SIGTERM

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/flyme/internal/agent"
	"github.com/2389/flyme/internal/config"
	"github.com/2389/flyme/internal/conversation"
	"github.com/2389/flyme/internal/dedupe"
	"github.com/2389/flyme/internal/metrics"
	"github.com/2389/flyme/internal/ops"
	"github.com/2389/flyme/internal/prompt"
	"github.com/2389/flyme/internal/router"
	"github.com/2389/flyme/internal/shutdown"
	"github.com/2389/flyme/internal/store"
	"github.com/2389/flyme/internal/transport"
	"github.com/2389/flyme/internal/transport/matrix"
	"github.com/2389/flyme/internal/transport/slack"
)

const banner = `
   __ _
  / _| |_   _ _ __ ___   ___
 | |_| | | | | '_ ' _ \ / _ \
 |  _| | |_| | | | | | |  __/
 |_| |_|\__, |_| |_| |_|\___|
        |___/
`

// drainGrace covers the replies sent after the last agent run returns.
const drainGrace = 10 * time.Second

// listener is a chat transport: it replies, looks up profiles and feeds
// inbound events to the router until its context ends.
type listener interface {
	router.Replier
	router.ProfileLookup
	OnConnectionChange(fn func(connected bool))
	Run(ctx context.Context, sink transport.Submitter) error
}

// getConfigPath returns the path to the config file and whether it was
// chosen explicitly.
// Priority: FLYME_CONFIG env var > XDG_CONFIG_HOME/flyme/config.toml > ~/.config/flyme/config.toml
func getConfigPath() (string, bool) {
	if envPath := os.Getenv("FLYME_CONFIG"); envPath != "" {
		return envPath, true
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml", false
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "flyme", "config.toml"), false
}

// resolveConfigPath picks the file to load. A missing default file means
// configuration comes from the environment alone; a missing explicit file
// is an error reported by config.Load.
func resolveConfigPath() string {
	path, explicit := getConfigPath()
	if explicit {
		return path
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "init":
			err = runInit(os.Stdin)
		case "stats":
			err = runStats(os.Args[2:], os.Stdout)
		default:
			err = fmt.Errorf("unknown command %q (want init or stats)", os.Args[1])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := resolveConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		var missing *config.MissingError
		if errors.As(err, &missing) {
			return fmt.Errorf("%w (set them in the environment or run 'flyme init')", err)
		}
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level)
	slog.SetDefault(logger)
	printStartupInfo(cfg, configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := shutdown.New(logger)
	coord.NotifySignals(ctx, syscall.SIGINT, syscall.SIGTERM)
	// Releases whatever was opened when startup fails. After Run this is a no-op.
	defer func() { _ = coord.Shutdown(context.Background()) }()

	a, err := buildApp(ctx, cfg, coord, logger)
	if err != nil {
		return err
	}

	logger.Info("starting flyme", "transport", cfg.Transport)
	err = coord.Run(ctx, func(ctx context.Context) error {
		return a.chat.Run(ctx, a.router)
	})
	if err != nil {
		return err
	}
	logger.Info("flyme stopped")
	return nil
}

// app is the wired bot: a transport feeding a router.
type app struct {
	chat   listener
	router *router.Router
}

// buildApp creates every component and registers its cleanup with coord as
// soon as it exists. Cleanup runs in registration order, so the router drain
// is registered first: in-flight requests still reply through the transport
// and write to the ledger.
func buildApp(ctx context.Context, cfg *config.Config, coord *shutdown.Coordinator, logger *slog.Logger) (*app, error) {
	a := &app{}
	coord.OnShutdown("router", func(ctx context.Context) error {
		if a.router == nil {
			return nil
		}
		if budget := drainBudget(cfg.Agent.Timeout); budget > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		}
		return a.router.Drain(ctx)
	})

	instructions, err := prompt.LoadInstructions(cfg.Agent.InstructionsPath, time.Now())
	if err != nil {
		return nil, fmt.Errorf("loading agent instructions: %w", err)
	}

	m := metrics.New()
	observers := []router.Observer{m}
	usageSinks := []func(agent.Usage){m.RecordUsage}

	if cfg.Ledger.Path != "" {
		ledger, err := store.NewSQLiteStore(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
		coord.OnShutdown("ledger", func(ctx context.Context) error { return ledger.Close() })

		obs := store.NewObserver(ledger, logger)
		observers = append(observers, obs)
		usageSinks = append(usageSinks, obs.RecordUsage)
		logger.Info("request ledger enabled", "path", cfg.Ledger.Path)
	}

	runner := agent.NewOpenAIRunner(cfg.Agent.APIKey, cfg.Agent.BaseURL, agent.RunnerConfig{
		Model:        cfg.Agent.Model,
		Instructions: instructions,
		Tools:        []agent.Tool{agent.CurrentTimeTool(time.Now)},
		OnUsage: func(u agent.Usage) {
			for _, sink := range usageSinks {
				sink(u)
			}
		},
	}, logger)

	conversations := conversation.NewStore(cfg.Conversation.Window, cfg.Conversation.MaxUsers)
	m.TrackConversations(conversations.Users)
	logger.Debug("conversation history configured",
		"window", conversations.Window(),
		"max_users", cfg.Conversation.MaxUsers,
	)

	seen := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	coord.OnShutdown("dedupe", func(ctx context.Context) error {
		seen.Close()
		return nil
	})

	chat, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := chat.(io.Closer); ok {
		coord.OnShutdown("transport", func(ctx context.Context) error { return c.Close() })
	}
	a.chat = chat

	if cfg.Ops.Addr != "" {
		srv := ops.New(cfg.Ops.Addr, m.Handler(), logger)
		chat.OnConnectionChange(srv.SetReady)
		if err := srv.Start(); err != nil {
			return nil, fmt.Errorf("starting ops server: %w", err)
		}
		coord.OnShutdown("ops", srv.Shutdown)
	}

	a.router, err = router.New(router.Options{
		Gateway:      runner,
		Store:        conversations,
		Replier:      chat,
		Profiles:     chat,
		Dedupe:       seen,
		Observers:    observers,
		Transport:    cfg.Transport,
		MaxTurns:     cfg.Agent.MaxTurns,
		AgentTimeout: cfg.Agent.Timeout,
		AckText:      cfg.Agent.AckText,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	return a, nil
}

// drainBudget bounds the router drain. Without an agent timeout a run has no
// deadline, so neither does the drain.
func drainBudget(agentTimeout time.Duration) time.Duration {
	if agentTimeout <= 0 {
		return 0
	}
	return agentTimeout + drainGrace
}

// newTransport builds the configured chat transport. The Matrix transport
// logs in before returning.
func newTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (listener, error) {
	switch cfg.Transport {
	case config.TransportMatrix:
		t, err := matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			Username:     cfg.Matrix.Username,
			Password:     cfg.Matrix.Password,
			RecoveryKey:  cfg.Matrix.RecoveryKey,
			AllowedRooms: cfg.Matrix.AllowedRooms,
			DataDir:      cfg.Matrix.DataDir,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := t.Login(ctx); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return slack.New(slack.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
			Debug:    cfg.Slack.Debug,
		}, logger), nil
	}
}

func printStartupInfo(cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	if configPath == "" {
		configPath = "(environment)"
	}

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Transport:  %s\n", cfg.Transport)
	if cfg.Transport == config.TransportMatrix {
		green.Print("    ▶ ")
		fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
		if cfg.Matrix.RecoveryKey != "" {
			green.Print("    ▶ ")
			fmt.Println("Encryption: enabled")
		}
	}
	model := cfg.Agent.Model
	if model == "" {
		model = agent.DefaultModel
	}
	green.Print("    ▶ ")
	fmt.Printf("Model:      %s\n", model)
	if cfg.Ops.Addr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Ops:        %s\n", cfg.Ops.Addr)
	}
	fmt.Println()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// prompter reads answers to interactive setup questions.
type prompter struct {
	reader *bufio.Reader
	green  *color.Color
}

func (p *prompter) ask(question, fallback string) string {
	p.green.Print("    ▶ ")
	if fallback != "" {
		fmt.Printf("%s [%s]: ", question, fallback)
	} else {
		fmt.Printf("%s: ", question)
	}
	answer, _ := p.reader.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fallback
	}
	return answer
}

func runInit(in io.Reader) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath, _ := getConfigPath()
	p := &prompter{reader: bufio.NewReader(in), green: green}

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		answer, _ := p.reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	cfg := buildInitConfig(p)
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: flyme")
	fmt.Println()
	return nil
}

// buildInitConfig gathers config values interactively. Secrets left blank
// are written as ${VAR} references resolved at load time.
func buildInitConfig(p *prompter) *config.Config {
	cfg := config.Default()

	cfg.Transport = p.ask("Transport (slack or matrix)", config.TransportSlack)
	switch cfg.Transport {
	case config.TransportMatrix:
		cfg.Matrix.Homeserver = p.ask("Matrix homeserver URL", "https://matrix.org")
		cfg.Matrix.Username = p.ask("Matrix username", "")
		cfg.Matrix.Password = p.ask("Matrix password", "${MATRIX_PASSWORD}")
		cfg.Matrix.RecoveryKey = p.ask("Matrix recovery key (optional, for E2EE)", "")
		if cfg.Matrix.RecoveryKey != "" {
			cfg.Matrix.DataDir = p.ask("Crypto data directory", defaultDataDir())
		}
	default:
		cfg.Slack.BotToken = p.ask("Slack bot token", "${SLACK_BOT_TOKEN}")
		cfg.Slack.AppToken = p.ask("Slack app token", "${SLACK_APP_TOKEN}")
	}

	cfg.Agent.APIKey = p.ask("Agent API key", "${OPENAI_API_KEY}")
	cfg.Agent.BaseURL = p.ask("Agent base URL (optional)", "")
	cfg.Agent.Model = p.ask("Model", agent.DefaultModel)
	cfg.Ops.Addr = p.ask("Health and metrics address (optional)", "")
	cfg.Ledger.Path = p.ask("Request ledger path (optional)", "")
	return cfg
}

// defaultDataDir returns the flyme data directory.
// Priority: XDG_DATA_HOME/flyme > ~/.local/share/flyme
func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "flyme")
}
