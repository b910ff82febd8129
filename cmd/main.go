// Package main is the entry point for the agent-bridge CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/compresr/agent-bridge/internal/config"
	"github.com/compresr/agent-bridge/internal/monitoring"
)

// Version is stamped at build time via -ldflags "-X main.Version=...".
var Version = "v0.1.0"

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	// Try loading from ~/.config/agent-bridge/.env first
	configEnv := filepath.Join(homeDir, ".config", "agent-bridge", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Also load local .env (can override)
	_ = godotenv.Load()
}

func main() {
	loadEnvFiles()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printHelp(stdout)
		return 2
	}

	switch args[0] {
	case "send":
		return runSend(args[1:], stdout, stderr)
	case "stream":
		return runStream(args[1:], stdout, stderr)
	case "validate":
		return runValidate(args[1:], stdout, stderr)
	case "context":
		return runContext(args[1:], stdout, stderr)
	case "agents":
		return runAgents(args[1:], stdout, stderr)
	case "version", "-v", "--version":
		fmt.Fprintf(stdout, "agent-bridge %s\n", Version)
		return 0
	case "help", "-h", "--help":
		printHelp(stdout)
		return 0
	}

	fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
	printHelp(stderr)
	return 2
}

// loadConfig resolves and parses the configuration, then installs the
// global logger from its monitoring section.
func loadConfig(configPath string, debug bool) (*config.Config, error) {
	data, source, err := resolveConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	setupLogging(cfg.Monitoring.LoggerConfig(), debug)
	log.Debug().
		Str("version", Version).
		Str("config", source).
		Str("records", cfg.Records.Type+":"+cfg.Records.Path).
		Msg("configuration loaded")

	return cfg, nil
}

// setupLogging configures zerolog. Without an explicit format, an
// interactive stderr gets console output and everything else gets JSON.
func setupLogging(cfg monitoring.LoggerConfig, debug bool) {
	if cfg.Format == "" && (cfg.Output == "" || cfg.Output == "stderr") && term.IsTerminal(int(os.Stderr.Fd())) {
		cfg.Format = "console"
	}
	if debug {
		cfg.Level = zerolog.LevelDebugValue
	}
	monitoring.Global(cfg)
}

// printHelp prints usage information
func printHelp(w io.Writer) {
	fmt.Fprintln(w, "agent-bridge - talk to configured AI agents from the terminal")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  agent-bridge <command> [options] [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  send AGENT MESSAGE      Send one message and print the reply")
	fmt.Fprintln(w, "  stream AGENT MESSAGE    Stream the reply as it arrives (Ctrl-C aborts)")
	fmt.Fprintln(w, "  validate AGENT          Check the agent's provider configuration")
	fmt.Fprintln(w, "  context AGENT           Print the resolved agent, model and provider")
	fmt.Fprintln(w, "  agents                  List configured agents")
	fmt.Fprintln(w, "  version                 Print version information")
	fmt.Fprintln(w, "  help                    Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  --config FILE           Config file (default: ~/.config/agent-bridge/config.yaml)")
	fmt.Fprintln(w, "  --debug                 Enable debug logging")
	fmt.Fprintln(w, "  --temperature N         Sampling temperature (send, stream)")
	fmt.Fprintln(w, "  --max-tokens N          Output token limit (send, stream)")
	fmt.Fprintln(w, "  --params JSON           Extra request body fields (send, stream)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  AGENT_BRIDGE_RECORDS_PATH   Override records.path")
	fmt.Fprintln(w, "  AGENT_BRIDGE_LOG_LEVEL      Override monitoring.log_level")
	fmt.Fprintln(w, "  AGENT_BRIDGE_TELEMETRY_LOG  Write call telemetry to this JSONL file")
}
