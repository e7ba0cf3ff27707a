// Command scoreboard-mcp is a small MCP server exposing Pressbox's
// sports-data fetches as tools over SSE.
//
// It exists so a Pressbox deployment has an in-repo MCP server to
// point its SSE (or stdio-over-localhost) client at: getMLBTeams,
// getScoreboard, getOdds, and getCFBGames fetch live data through the
// same upstream clients the CLI uses, and return the result-envelope
// JSON convention in their text content.
//
// API keys come from the upstream section of the Pressbox config file
// when one is found, with ODDS_API_KEY and CFBD_API_KEY environment
// variables filling any gaps.
//
// Usage:
//
//	scoreboard-mcp [-config path]
//	PORT=8080 ODDS_API_KEY=... scoreboard-mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pressbox/pressbox/internal/buildinfo"
	"github.com/pressbox/pressbox/internal/config"
	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/upstream"
)

const serverName = "scoreboard-mcp"

func main() {
	var configPath string
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	publicURL := os.Getenv("PUBLIC_URL")
	if publicURL == "" {
		publicURL = fmt.Sprintf("http://localhost:%s", port)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	keys, err := upstreamKeys(configPath)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	s := server.NewMCPServer(
		serverName,
		buildinfo.Version,
		server.WithToolCapabilities(true),
	)
	registerTools(s, keys)

	sseServer := server.NewSSEServer(s,
		server.WithBaseURL(publicURL),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/message", sseServer.ServeHTTP)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","server":%q,"version":%q}`, serverName, buildinfo.Version)
	})

	logger.Info("scoreboard-mcp starting", "port", port, "public_url", publicURL)
	if err := (&http.Server{Addr: ":" + port, Handler: mux}).ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// upstreamKeys resolves the API keys for the tool backends. The
// Pressbox config file wins when one is found; ODDS_API_KEY and
// CFBD_API_KEY fill in anything the file leaves blank, so the server
// still runs keyless-env deployments unchanged.
func upstreamKeys(configPath string) (config.UpstreamConfig, error) {
	var keys config.UpstreamConfig

	cfgPath, err := config.FindConfig(configPath)
	if err == nil {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return keys, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
		keys = cfg.Upstream
	} else if configPath != "" {
		return keys, err
	}

	if keys.OddsKey == "" {
		keys.OddsKey = os.Getenv("ODDS_API_KEY")
	}
	if keys.CFBDKey == "" {
		keys.CFBDKey = os.Getenv("CFBD_API_KEY")
	}
	return keys, nil
}

// --- Helpers ---

func toMap(args any) map[string]any {
	if m, ok := args.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func getStr(args any, key, fallback string) string {
	if v, ok := toMap(args)[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(args any, key string, fallback int) int {
	if v, ok := toMap(args)[key].(float64); ok {
		return int(v)
	}
	return fallback
}

// envelopeResult turns a result envelope into a tool result: the
// envelope is serialized verbatim into text content so clients see the
// same {"ok": ...} convention everywhere. Failure envelopes keep the
// transport-level call successful; the failure lives in the payload.
func envelopeResult(env envelope.Envelope) *mcp.CallToolResult {
	data, err := json.Marshal(env)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal envelope: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// --- Tool Registration ---

func registerTools(s *server.MCPServer, keys config.UpstreamConfig) {
	statsapi := upstream.NewStatsAPI(nil)
	espn := upstream.NewESPN(nil)
	odds := upstream.NewOdds(keys.OddsKey, nil)
	cfbd := upstream.NewCFBD(keys.CFBDKey, nil)

	s.AddTool(
		mcp.NewTool("getMLBTeams",
			mcp.WithDescription("Get all MLB teams for a season from MLB StatsAPI"),
			mcp.WithNumber("season", mcp.Description("Season year (e.g. 2025). Default: current season")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			season := getInt(req.Params.Arguments, "season", 0)
			return envelopeResult(statsapi.Teams(ctx, season)), nil
		},
	)

	s.AddTool(
		mcp.NewTool("getScoreboard",
			mcp.WithDescription("Get the current ESPN scoreboard for a sport/league pair"),
			mcp.WithString("sport", mcp.Required(), mcp.Description("Sport path segment (e.g. baseball, football)")),
			mcp.WithString("league", mcp.Required(), mcp.Description("League path segment (e.g. mlb, college-football)")),
			mcp.WithString("dates", mcp.Description("Optional date filter in YYYYMMDD form")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			sport := getStr(req.Params.Arguments, "sport", "")
			league := getStr(req.Params.Arguments, "league", "")
			if sport == "" || league == "" {
				return mcp.NewToolResultError("sport and league are required"), nil
			}
			dates := getStr(req.Params.Arguments, "dates", "")
			return envelopeResult(espn.Scoreboard(ctx, sport, league, dates)), nil
		},
	)

	s.AddTool(
		mcp.NewTool("getOdds",
			mcp.WithDescription("Get current betting odds for a sport from The Odds API"),
			mcp.WithString("sport", mcp.Required(), mcp.Description("Odds API sport key (e.g. baseball_mlb, americanfootball_ncaaf)")),
			mcp.WithString("regions", mcp.Description("Comma-separated regions. Default: us")),
			mcp.WithString("markets", mcp.Description("Comma-separated markets. Default: h2h")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if !odds.Configured() {
				return mcp.NewToolResultError("no odds API key configured (upstream.odds_key or ODDS_API_KEY)"), nil
			}
			sport := getStr(req.Params.Arguments, "sport", "")
			if strings.TrimSpace(sport) == "" {
				return mcp.NewToolResultError("sport is required"), nil
			}
			regions := getStr(req.Params.Arguments, "regions", "")
			markets := getStr(req.Params.Arguments, "markets", "")
			return envelopeResult(odds.GameOdds(ctx, sport, regions, markets)), nil
		},
	)

	s.AddTool(
		mcp.NewTool("getCFBGames",
			mcp.WithDescription("Get college football games for a season week from CollegeFootballData"),
			mcp.WithNumber("year", mcp.Required(), mcp.Description("Season year (e.g. 2025)")),
			mcp.WithNumber("week", mcp.Description("Week number. Default: all weeks")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if !cfbd.Configured() {
				return mcp.NewToolResultError("no CFBD API key configured (upstream.cfbd_key or CFBD_API_KEY)"), nil
			}
			year := getInt(req.Params.Arguments, "year", 0)
			if year == 0 {
				return mcp.NewToolResultError("year is required"), nil
			}
			week := getInt(req.Params.Arguments, "week", 0)
			return envelopeResult(cfbd.Games(ctx, year, week)), nil
		},
	)
}
