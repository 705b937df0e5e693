package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "ringbot.yaml"

// config is the resolved runtime configuration.
type config struct {
	APIBaseURL     string
	AuthBaseURL    string
	IdentitySecret string
	BotToken       string
	StateDir       string

	RefreshInterval time.Duration
	DecisionTimeout time.Duration
	ReasonTimeout   time.Duration
	MintRetryDelay  time.Duration
	MintAttempts    int
	APIRateLimit    float64

	LogLevel  string
	LogFormat string
}

func (c *config) credentialFile() string { return filepath.Join(c.StateDir, "credential.json") }
func (c *config) routingFile() string    { return filepath.Join(c.StateDir, "channels.json") }
func (c *config) ledgerFile() string     { return filepath.Join(c.StateDir, "decisions.db") }

// fileConfig is the optional YAML layer. Values are strings so that every
// layer is parsed the same way.
type fileConfig struct {
	APIBaseURL      string `yaml:"api_base_url"`
	AuthBaseURL     string `yaml:"auth_base_url"`
	IdentitySecret  string `yaml:"identity_secret"`
	BotToken        string `yaml:"discord_bot_token"`
	StateDir        string `yaml:"state_dir"`
	RefreshInterval string `yaml:"refresh_interval"`
	DecisionTimeout string `yaml:"decision_timeout"`
	ReasonTimeout   string `yaml:"reason_timeout"`
	MintRetryDelay  string `yaml:"mint_retry_delay"`
	MintAttempts    string `yaml:"mint_attempts"`
	APIRateLimit    string `yaml:"api_rate_limit"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
}

var errMissingBotToken = errors.New("DISCORD_BOT_TOKEN not set")

// loadConfig resolves configuration with priority: flag > env > file > default.
// The .env file, if present, is loaded into the environment first.
func loadConfig(args []string) (*config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	fs := flag.NewFlagSet("ringbot", flag.ContinueOnError)
	var (
		flagConfig      = fs.String("config", "", "YAML config file (default: ringbot.yaml or CONFIG_FILE env)")
		flagAPIBaseURL  = fs.String("api-url", "", "Backend API base URL (or API_BASE_URL env)")
		flagAuthBaseURL = fs.String("auth-url", "", "Backend auth base URL (default: API URL, or AUTH_BASE_URL env)")
		flagStateDir    = fs.String("state-dir", "", "Directory for credentials, routing and decisions (default: .ringbot)")
		flagLogLevel    = fs.String("log-level", "", "Log level: debug, info, warn, error (default: info)")
		flagLogFormat   = fs.String("log-format", "", "Log format: json or console (default: json)")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	file, err := readConfigFile(getConfig(*flagConfig, "CONFIG_FILE", "", defaultConfigFile))
	if err != nil {
		return nil, err
	}

	cfg := &config{
		APIBaseURL: getConfig(*flagAPIBaseURL, "API_BASE_URL", file.APIBaseURL, getEnv("WEBRING_BASE_URL", "http://localhost:8000")),
		BotToken:   getConfig("", "DISCORD_BOT_TOKEN", file.BotToken, ""),
		StateDir:   getConfig(*flagStateDir, "STATE_DIR", file.StateDir, ".ringbot"),
		LogLevel:   getConfig(*flagLogLevel, "LOG_LEVEL", file.LogLevel, "info"),
		LogFormat:  getConfig(*flagLogFormat, "LOG_FORMAT", file.LogFormat, "json"),
	}
	cfg.AuthBaseURL = getConfig(*flagAuthBaseURL, "AUTH_BASE_URL", file.AuthBaseURL, cfg.APIBaseURL)
	// The bot identity secret defaults to the Discord token itself.
	cfg.IdentitySecret = getConfig("", "IDENTITY_SECRET", file.IdentitySecret, cfg.BotToken)

	durations := []struct {
		key  string
		file string
		def  string
		into *time.Duration
	}{
		{"REFRESH_INTERVAL", file.RefreshInterval, "30m", &cfg.RefreshInterval},
		{"DECISION_TIMEOUT", file.DecisionTimeout, "168h", &cfg.DecisionTimeout},
		{"REASON_TIMEOUT", file.ReasonTimeout, "5m", &cfg.ReasonTimeout},
		{"MINT_RETRY_DELAY", file.MintRetryDelay, "1s", &cfg.MintRetryDelay},
	}
	for _, d := range durations {
		raw := getConfig("", d.key, d.file, d.def)
		v, err := time.ParseDuration(raw)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid %s %q: must be a positive duration", d.key, raw)
		}
		*d.into = v
	}

	raw := getConfig("", "MINT_ATTEMPTS", file.MintAttempts, "0")
	if cfg.MintAttempts, err = strconv.Atoi(raw); err != nil || cfg.MintAttempts < 0 {
		return nil, fmt.Errorf("invalid MINT_ATTEMPTS %q: must be 0 (unbounded) or positive", raw)
	}

	raw = getConfig("", "API_RATE_LIMIT", file.APIRateLimit, "5")
	if cfg.APIRateLimit, err = strconv.ParseFloat(raw, 64); err != nil || cfg.APIRateLimit < 0 {
		return nil, fmt.Errorf("invalid API_RATE_LIMIT %q: must be requests per second, 0 disables", raw)
	}

	if err := validateServerURL(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	if err := validateServerURL(cfg.AuthBaseURL); err != nil {
		return nil, fmt.Errorf("invalid AUTH_BASE_URL: %w", err)
	}

	if cfg.BotToken == "" {
		return nil, errMissingBotToken
	}
	return cfg, nil
}

// readConfigFile reads the YAML layer. A missing file is not an error.
func readConfigFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// getConfig returns value with priority: flag > env > file > default
func getConfig(flagValue, envKey, fileValue, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if fileValue != "" {
		defaultValue = fileValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// warnInsecure prints a warning for every base URL that uses plain HTTP.
func warnInsecure(w io.Writer, cfg *config) {
	seen := map[string]bool{}
	for _, u := range []string{cfg.APIBaseURL, cfg.AuthBaseURL} {
		if seen[u] || !strings.HasPrefix(strings.ToLower(u), "http://") {
			continue
		}
		seen[u] = true
		fmt.Fprintf(w, "⚠️  WARNING: %s uses HTTP instead of HTTPS. Credentials will be transmitted in plaintext!\n", u)
	}
	if len(seen) > 0 {
		fmt.Fprintln(w, "⚠️  This is only safe for local development. Use HTTPS in production.")
		fmt.Fprintln(w)
	}
}

// printMissingToken explains how to provide the bot token.
func printMissingToken(w io.Writer) {
	fmt.Fprintln(w, "Error: DISCORD_BOT_TOKEN not set. Please provide it via:")
	fmt.Fprintln(w, "  1. Environment variable: DISCORD_BOT_TOKEN=<token>")
	fmt.Fprintln(w, "  2. .env file: DISCORD_BOT_TOKEN=<token>")
	fmt.Fprintln(w, "  3. Config file: discord_bot_token: <token>")
	fmt.Fprintln(w, "\nIDENTITY_SECRET defaults to the same value when unset.")
}
