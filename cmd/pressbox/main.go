// Pressbox is a sports-data toolkit built around MCP tool servers.
//
// It connects to configured MCP servers (stdio subprocess, HTTP, or
// SSE), exposes their tools through a CLI and an optional Discord
// bot, fetches scores and odds from the sports APIs directly, and
// answers free-form questions through OpenRouter. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	pressbox serve                              Connect servers and run the Discord bridge
//	pressbox tools [server]                     List tools on one or all MCP servers
//	pressbox call <server> <tool> [json-args]   Invoke a tool and print the result
//	pressbox ask <question>                     Ask a question through OpenRouter
//	pressbox scores <league> [league...]        Fetch scoreboards (ESPN, SoccerData)
//	pressbox version                            Print version and build information
//	pressbox -o json version                    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/pressbox/pressbox/internal/buildinfo"
	"github.com/pressbox/pressbox/internal/config"
	"github.com/pressbox/pressbox/internal/discord"
	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/events"
	"github.com/pressbox/pressbox/internal/llm"
	"github.com/pressbox/pressbox/internal/mcp"
	"github.com/pressbox/pressbox/internal/upstream"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the pressbox command. All OS-level
// dependencies are injected as parameters. Arguments are parsed by
// hand: the flag package relies on package-level globals, which makes
// it impossible to call run() concurrently from tests, and the
// argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "tools":
		return runTools(ctx, stdout, configPath, cmdArgs)
	case "call":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: pressbox call <server> <tool> [json-args]")
		}
		return runCall(ctx, stdout, configPath, cmdArgs)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: pressbox ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "scores":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: pressbox scores <league> [league...]")
		}
		return runScores(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Pressbox - sports-data MCP toolkit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: pressbox [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                             Connect MCP servers and run the Discord bridge")
	fmt.Fprintln(w, "  tools [server]                    List tools on one or all MCP servers")
	fmt.Fprintln(w, "  call <server> <tool> [json-args]  Invoke a tool and print the result envelope")
	fmt.Fprintln(w, "  ask <question>                    Ask a question through OpenRouter")
	fmt.Fprintln(w, "  scores <league> [league...]       Fetch scoreboards (mlb, nfl, cfb, nba, epl, soccer)")
	fmt.Fprintln(w, "  version                           Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-11s %s\n", k+":", v)
		}
	}
	return nil
}

// runServe connects every configured MCP server, starts the Discord
// bridge when a bot token is configured, and blocks until SIGINT or
// SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, "text")
	logger.Info("pressbox starting",
		"version", buildinfo.Version,
		"config", cfgPath,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.New()

	var servers []discord.ToolCaller
	for _, sc := range cfg.MCPServers {
		client := newMCPClient(sc, bus, logger)
		if err := client.Connect(ctx); err != nil {
			logger.Error("mcp server connect failed",
				"server", sc.Name,
				"error", err,
			)
			continue
		}
		defer client.Close()
		logger.Info("mcp server connected", "server", sc.Name)
		servers = append(servers, client)
	}
	if len(servers) == 0 && len(cfg.MCPServers) > 0 {
		return fmt.Errorf("no MCP servers could be connected")
	}

	var asker discord.Asker
	if cfg.OpenRouter.Configured() {
		asker = llm.NewOpenRouter(cfg.OpenRouter, bus)
		logger.Info("openrouter configured", "model", cfg.OpenRouter.Model)
	}

	if !cfg.Discord.Configured() {
		logger.Info("no discord token configured, idling until shutdown")
		<-ctx.Done()
		return nil
	}

	gateway := discord.NewGateway(cfg.Discord.Token, logger)
	if err := gateway.Connect(ctx); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	defer gateway.Close()

	bridge := discord.NewBridge(discord.BridgeConfig{
		Gateway:  gateway,
		Replier:  discord.NewREST(cfg.Discord.Token),
		Servers:  servers,
		Asker:    asker,
		Prefix:   cfg.Discord.Prefix,
		Channels: cfg.Discord.Channels,
		Bus:      bus,
		Logger:   logger,
	})

	bridge.Start(ctx)
	logger.Info("pressbox shutting down")
	return nil
}

// runTools lists tools on one server (when named) or all configured
// servers.
func runTools(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(io.Discard, slog.LevelInfo, "text")

	serverCfgs := cfg.MCPServers
	if len(args) > 0 {
		sc, err := findServer(cfg, args[0])
		if err != nil {
			return err
		}
		serverCfgs = []config.MCPServerConfig{sc}
	}
	if len(serverCfgs) == 0 {
		return fmt.Errorf("no MCP servers configured")
	}

	for _, sc := range serverCfgs {
		client := newMCPClient(sc, nil, logger)

		cctx, cancel := context.WithTimeout(ctx, sc.Timeout())
		err := client.Connect(cctx)
		if err != nil {
			cancel()
			fmt.Fprintf(stdout, "ERROR: %s: %v\n", sc.Name, err)
			continue
		}

		tools, err := client.ListTools(cctx)
		cancel()
		client.Close()
		if err != nil {
			fmt.Fprintf(stdout, "ERROR: %s: %v\n", sc.Name, err)
			continue
		}

		fmt.Fprintf(stdout, "%s (%d tools)\n", sc.Name, len(tools))
		for _, t := range tools {
			fmt.Fprintf(stdout, "  %-24s %s\n", t.Name, t.Description)
		}
	}
	return nil
}

// runCall invokes one tool on one server and prints the result
// envelope as JSON. A failure envelope makes the command exit
// non-zero.
func runCall(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	serverName, toolName := args[0], args[1]

	var toolArgs map[string]any
	if len(args) > 2 {
		raw := strings.Join(args[2:], " ")
		if err := json.Unmarshal([]byte(raw), &toolArgs); err != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	sc, err := findServer(cfg, serverName)
	if err != nil {
		return err
	}

	logger := newLogger(io.Discard, slog.LevelInfo, "text")
	client := newMCPClient(sc, nil, logger)

	ctx, cancel := context.WithTimeout(ctx, sc.Timeout())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", sc.Name, err)
	}
	defer client.Close()

	env := client.CallTool(ctx, toolName, toolArgs)
	if err := printEnvelope(stdout, env); err != nil {
		return err
	}
	return env.Err()
}

// runAsk sends a single question through OpenRouter and prints the
// answer.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.OpenRouter.Configured() {
		return fmt.Errorf("no openrouter api key configured")
	}

	question := strings.Join(args, " ")
	client := llm.NewOpenRouter(cfg.OpenRouter, nil)

	answer, err := client.Ask(ctx, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, answer)
	return nil
}

// leagueMap translates friendly league names to ESPN sport/league
// path segments.
var leagueMap = map[string][2]string{
	"mlb":              {"baseball", "mlb"},
	"nfl":              {"football", "nfl"},
	"cfb":              {"football", "college-football"},
	"college-football": {"football", "college-football"},
	"nba":              {"basketball", "nba"},
	"nhl":              {"hockey", "nhl"},
	"epl":              {"soccer", "eng.1"},
	"mls":              {"soccer", "usa.1"},
}

// runScores fetches scoreboards for each named league. ESPN covers the
// mapped leagues; "soccer" routes through SoccerData live scores when
// an auth key is configured. Failures print per-league ERROR lines and
// the loop continues; the command fails only when nothing succeeded.
func runScores(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, leagues []string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	espn := upstream.NewESPN(nil)
	soccer := upstream.NewSoccerData(cfg.Upstream.SoccerDataKey, nil)

	succeeded := 0
	for _, league := range leagues {
		var env envelope.Envelope
		if strings.EqualFold(league, "soccer") {
			if !soccer.Configured() {
				fmt.Fprintln(stderr, "ERROR: soccer: no soccerdata_key configured")
				continue
			}
			env = soccer.Livescores(ctx)
		} else {
			sl, ok := leagueMap[strings.ToLower(league)]
			if !ok {
				fmt.Fprintf(stderr, "ERROR: unknown league %q (known: %s)\n", league, knownLeagues())
				continue
			}
			env = espn.Scoreboard(ctx, sl[0], sl[1], "")
		}

		if !env.OK {
			fmt.Fprintf(stderr, "ERROR: %s: %s\n", league, env.Message)
			continue
		}

		fmt.Fprintf(stdout, "=== %s ===\n", strings.ToUpper(league))
		if err := printEnvelope(stdout, env); err != nil {
			return err
		}
		succeeded++
	}

	if succeeded == 0 {
		return fmt.Errorf("no scoreboards could be fetched")
	}
	return nil
}

func knownLeagues() string {
	names := make([]string, 0, len(leagueMap)+1)
	for name := range leagueMap {
		names = append(names, name)
	}
	names = append(names, "soccer")
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// printEnvelope writes an envelope to w as indented JSON.
func printEnvelope(w io.Writer, env envelope.Envelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// newMCPClient builds an MCP client with the transport selected by the
// server configuration. Validate has already rejected unknown
// transports at config load.
func newMCPClient(sc config.MCPServerConfig, bus *events.Bus, logger *slog.Logger) *mcp.Client {
	var transport mcp.Transport
	switch sc.Transport {
	case "stdio":
		transport = mcp.NewStdioTransport(mcp.StdioConfig{
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
			Logger:  logger,
		})
	case "sse":
		transport = mcp.NewSSETransport(mcp.SSEConfig{
			URL:         sc.URL,
			BearerToken: sc.BearerToken,
			Timeout:     sc.Timeout(),
			Logger:      logger,
		})
	default:
		transport = mcp.NewHTTPTransport(mcp.HTTPConfig{
			URL:     sc.URL,
			Timeout: sc.Timeout(),
			Logger:  logger,
		})
	}
	return mcp.NewClient(sc.Name, transport, bus, logger)
}

// newLogger creates a structured logger that writes to w at the given
// level and format. All log output goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfigOrDefault loads configuration like loadConfig, but when no
// explicit path was given and nothing is found on the search paths, it
// returns the built-in defaults instead of failing. Used by commands
// that work keyless, like scores against the public ESPN feeds.
func loadConfigOrDefault(explicit string) (*config.Config, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		return config.Default(), nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// findServer returns the configured MCP server with the given name.
func findServer(cfg *config.Config, name string) (config.MCPServerConfig, error) {
	for _, sc := range cfg.MCPServers {
		if sc.Name == name {
			return sc, nil
		}
	}
	return config.MCPServerConfig{}, fmt.Errorf("unknown MCP server %q", name)
}
