package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type API struct {
	Listen string
	// AllowedOrigins configures CORS for the browser frontend
	AllowedOrigins []string
}

type Market struct {
	// StatsWindow is the sliding window for per-bond market statistics
	// (volume, high/low, price change)
	StatsWindow time.Duration
}

type Node struct {
	// DataDir holds the pebble store; empty disables persistence and the
	// engine runs purely in memory
	DataDir string
	// TradeJournal is an optional append-only JSON-line log of executed
	// trades; empty disables it
	TradeJournal string
	LogFile      string
	Debug        bool
}

type Config struct {
	API    API
	Market Market
	Node   Node
}

func Default() Config {
	return Config{
		API: API{
			Listen:         ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Market: Market{
			StatsWindow: 24 * time.Hour,
		},
		Node: Node{
			DataDir:      "data/bondcore",
			TradeJournal: "",
			LogFile:      "",
			Debug:        false,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.API.Listen = getEnv("API_LISTEN", cfg.API.Listen)
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitTrim(origins)
	}

	if window := os.Getenv("MARKET_STATS_WINDOW_MIN"); window != "" {
		if m, err := strconv.Atoi(window); err == nil && m > 0 {
			cfg.Market.StatsWindow = time.Duration(m) * time.Minute
		}
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.TradeJournal = getEnv("TRADE_JOURNAL_FILE", cfg.Node.TradeJournal)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	if debug := os.Getenv("DEBUG"); debug != "" {
		cfg.Node.Debug = debug == "true"
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
