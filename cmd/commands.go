package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/agent-bridge/internal/adapters"
	"github.com/compresr/agent-bridge/internal/comms"
	"github.com/compresr/agent-bridge/internal/config"
	"github.com/compresr/agent-bridge/internal/conversation"
	"github.com/compresr/agent-bridge/internal/manager"
	"github.com/compresr/agent-bridge/internal/monitoring"
	"github.com/compresr/agent-bridge/internal/records"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitAborted = 130
)

// =============================================================================
// COMPOSITION
// =============================================================================

// app holds the wired communication stack for one command invocation.
type app struct {
	source  records.Source
	closer  io.Closer
	service *comms.Service
	bridge  *conversation.Bridge
}

func newApp(cfg *config.Config) (*app, error) {
	src, closer, err := records.Open(cfg.Records.Type, cfg.Records.Path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}

	tracker, err := monitoring.NewTracker(cfg.Monitoring.TelemetryConfig())
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open telemetry log: %w", err)
	}
	alerts := monitoring.NewAlertManager(monitoring.New(cfg.Monitoring.LoggerConfig()), cfg.Monitoring.AlertConfig())

	svc := comms.New(src, manager.New(nil, cfg.AdapterDeps(), manager.WithAlerts(alerts)),
		comms.WithTracker(tracker),
		comms.WithAlerts(alerts),
	)

	return &app{
		source:  src,
		closer:  closer,
		service: svc,
		bridge:  conversation.NewBridge(svc, conversation.NewStore()),
	}, nil
}

// Close aborts any stream still in flight and releases the records source.
func (a *app) Close() {
	a.bridge.CancelAll()
	if err := a.closer.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close records source")
	}
}

// =============================================================================
// FLAGS
// =============================================================================

// commandFlags are the flags shared by every subcommand.
type commandFlags struct {
	fs     *flag.FlagSet
	config string
	debug  bool
}

func newCommandFlags(name string, stderr io.Writer) *commandFlags {
	cf := &commandFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	cf.fs.SetOutput(stderr)
	cf.fs.StringVar(&cf.config, "config", "", "path to config file")
	cf.fs.BoolVar(&cf.debug, "debug", false, "enable debug logging")
	return cf
}

// callOptions registers the per-call flags on fs and returns the options
// they fill in.
func callOptions(fs *flag.FlagSet) *adapters.Options {
	opts := &adapters.Options{}
	fs.Func("temperature", "sampling temperature", func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q", s)
		}
		opts.Temperature = &v
		return nil
	})
	fs.Func("max-tokens", "output token limit", func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid max tokens %q", s)
		}
		opts.MaxTokens = &v
		return nil
	})
	fs.Func("params", "extra request body fields as a JSON object", func(s string) error {
		params, err := parseParams(s)
		if err != nil {
			return err
		}
		opts.AdditionalParams = params
		return nil
	})
	return opts
}

// parseParams decodes a JSON object of extra request body fields.
func parseParams(s string) (map[string]any, error) {
	if !gjson.Valid(s) {
		return nil, fmt.Errorf("params must be valid JSON")
	}
	params, ok := gjson.Parse(s).Value().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("params must be a JSON object")
	}
	return params, nil
}

// parse parses args and checks the positional count: exactly want, or at
// least want when variadic is set.
func (cf *commandFlags) parse(args []string, want int, variadic bool) ([]string, bool) {
	if err := cf.fs.Parse(args); err != nil {
		return nil, false
	}
	rest := cf.fs.Args()
	if len(rest) < want || (!variadic && len(rest) > want) {
		fmt.Fprintf(cf.fs.Output(), "%s: expected %d argument(s), got %d\n", cf.fs.Name(), want, len(rest))
		return nil, false
	}
	return rest, true
}

// setup loads config and wires the app.
func (cf *commandFlags) setup(stderr io.Writer) (*app, bool) {
	cfg, err := loadConfig(cf.config, cf.debug)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return nil, false
	}
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return nil, false
	}
	return a, true
}

// =============================================================================
// COMMANDS
// =============================================================================

func runSend(args []string, stdout, stderr io.Writer) int {
	cf := newCommandFlags("send", stderr)
	opts := callOptions(cf.fs)
	rest, ok := cf.parse(args, 2, true)
	if !ok {
		return exitUsage
	}
	a, ok := cf.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := a.bridge.Send(ctx, rest[0], strings.Join(rest[1:], " "), *opts)
	if err != nil {
		return reportError(stderr, err)
	}
	fmt.Fprintln(stdout, resp.Content)
	printUsage(stderr, resp.Usage)
	return exitOK
}

func runStream(args []string, stdout, stderr io.Writer) int {
	cf := newCommandFlags("stream", stderr)
	opts := callOptions(cf.fs)
	rest, ok := cf.parse(args, 2, true)
	if !ok {
		return exitUsage
	}
	a, ok := cf.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer a.Close()

	// Ctrl-C cancels ctx; the stream then ends with an aborted error event.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := a.bridge.Stream(ctx, rest[0], strings.Join(rest[1:], " "), *opts)
	if err != nil {
		return reportError(stderr, err)
	}

	code := exitOK
	for ev := range events {
		switch ev.Type {
		case adapters.EventChunk:
			fmt.Fprint(stdout, ev.Data)
		case adapters.EventComplete:
			fmt.Fprintln(stdout)
			printUsage(stderr, ev.Usage)
		case adapters.EventError:
			fmt.Fprintln(stdout)
			code = reportError(stderr, ev.Err)
		}
	}
	return code
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	cf := newCommandFlags("validate", stderr)
	rest, ok := cf.parse(args, 1, false)
	if !ok {
		return exitUsage
	}
	a, ok := cf.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer a.Close()

	if !a.service.ValidateAgent(context.Background(), rest[0]) {
		fmt.Fprintf(stdout, "%s: invalid\n", rest[0])
		return exitFailure
	}
	fmt.Fprintf(stdout, "%s: ok\n", rest[0])
	return exitOK
}

func runContext(args []string, stdout, stderr io.Writer) int {
	cf := newCommandFlags("context", stderr)
	rest, ok := cf.parse(args, 1, false)
	if !ok {
		return exitUsage
	}
	a, ok := cf.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer a.Close()

	actx, err := a.service.GetAgentContext(context.Background(), rest[0])
	if err != nil {
		return reportError(stderr, err)
	}
	actx.Provider = redactProvider(actx.Provider)

	out, err := json.MarshalIndent(actx, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

func runAgents(args []string, stdout, stderr io.Writer) int {
	cf := newCommandFlags("agents", stderr)
	if _, ok := cf.parse(args, 0, false); !ok {
		return exitUsage
	}
	a, ok := cf.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer a.Close()

	agents, err := a.source.ListAgents(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODEL")
	for _, agent := range agents {
		model := "-"
		if agent.ModelID != nil {
			model = *agent.ModelID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", agent.ID, agent.Name, model)
	}
	if err := tw.Flush(); err != nil {
		return exitFailure
	}
	return exitOK
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

// reportError prints err with its code and returns the matching exit code.
func reportError(stderr io.Writer, err error) int {
	if errors.Is(err, conversation.ErrStreaming) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
	code := comms.CodeOf(err)
	fmt.Fprintf(stderr, "error [%s]: %v\n", code, err)
	if code == comms.CodeAborted {
		return exitAborted
	}
	return exitFailure
}

func printUsage(w io.Writer, u *adapters.Usage) {
	if u == nil {
		return
	}
	fmt.Fprintf(w, "tokens: input=%d output=%d total=%d\n", u.InputTokens, u.OutputTokens, u.TotalTokens)
}

// maskKey keeps the first and last four characters of long secrets.
func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + "..." + key[len(key)-4:]
	}
}

// redactProvider masks the stored API key and every custom header value.
func redactProvider(p records.Provider) records.Provider {
	p.APIKey = maskKey(p.APIKey)
	if headers := p.ExtraHeaders(); len(headers) > 0 {
		extra := make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			extra[k] = v
		}
		masked := make(map[string]string, len(headers))
		for k, v := range headers {
			masked[k] = maskKey(v)
		}
		extra["headers"] = masked
		p.Extra = extra
	}
	return p
}
