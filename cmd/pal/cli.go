package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	pal "github.com/Paranoid-AF/pal"
	"github.com/Paranoid-AF/pal/generate"
	"github.com/Paranoid-AF/pal/logging"
	"github.com/Paranoid-AF/pal/repl"
	"github.com/Paranoid-AF/pal/serve"
)

// Run modes.
const (
	ModeInteractive = "interactive"
	ModeAPI         = "api"
)

type cli struct {
	Config  string           `short:"c" type:"path" help:"Configuration file (default: PAL_CONFIG or config/config.yaml)."`
	Mode    string           `short:"m" enum:"interactive,api" default:"interactive" help:"Run mode (interactive or api)."`
	Verbose bool             `short:"v" help:"Enable debug logging."`
	Version kong.VersionFlag `help:"Print version and exit."`

	Run struct{} `cmd:"" default:"1" help:"Start the assistant (the default)."`

	Settings struct {
		Get struct {
			Path string `arg:"" help:"Dotted key path, e.g. model.temperature."`
		} `cmd:"" help:"Print a configuration value."`
		Set struct {
			Path  string `arg:"" help:"Dotted key path, e.g. model.temperature."`
			Value string `arg:"" help:"New value, parsed as YAML."`
		} `cmd:"" help:"Change a configuration value and save the file."`
		Validate struct{} `cmd:"" help:"Check the configuration for errors."`
	} `cmd:"" help:"Inspect or change the configuration."`
}

// Config carries the process environment so Cli can be driven from tests.
type Config struct {
	Name        string
	Description string
	Version     string
	Exit        func(int)
	Stdin       *os.File
	Stdout      io.Writer
	Stderr      io.Writer
}

// NewConfig returns a Config wired to the real process.
func NewConfig() *Config {
	return &Config{
		Name:        "pal",
		Description: "Personal AI assistant: chat in the terminal or over an HTTP API.",
		Version:     pal.Version,
		Exit:        os.Exit,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Cli parses args, runs the selected command and returns the exit code.
func Cli(args []string, config *Config) int {
	var c cli
	parser, err := kong.New(&c,
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
		kong.Vars{"version": config.Name + " " + config.Version},
	)
	if err != nil {
		fmt.Fprintf(config.Stderr, "%s: %v\n", config.Name, err)
		return 1
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(config.Stderr, "%s: error: %v\n", config.Name, err)
		return 2
	}

	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(config.Stderr, &slog.HandlerOptions{Level: level})))

	m := pal.NewManager(c.Config)

	switch kctx.Command() {
	case "settings get <path>":
		return settingsGet(m, c.Settings.Get.Path, config)
	case "settings set <path> <value>":
		return settingsSet(m, c.Settings.Set.Path, c.Settings.Set.Value, config)
	case "settings validate":
		return settingsValidate(m, config)
	default:
		return run(m, &c, config)
	}
}

func settingsGet(m *pal.Manager, path string, config *Config) int {
	v := m.Get(path, nil)
	if v == nil {
		fmt.Fprintf(config.Stderr, "%s: %s is not set\n", config.Name, path)
		return 1
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(config.Stderr, "%s: %v\n", config.Name, err)
		return 1
	}
	config.Stdout.Write(out)
	return 0
}

func settingsSet(m *pal.Manager, path, raw string, config *Config) int {
	value := parseValue(raw)
	if err := m.Set(path, value); err != nil {
		fmt.Fprintf(config.Stderr, "%s: %v\n", config.Name, err)
		return 1
	}
	if err := m.Validate(); err != nil {
		fmt.Fprintf(config.Stderr, "%s: refusing to save invalid configuration:\n%v\n", config.Name, err)
		return 1
	}
	if err := m.Save(""); err != nil {
		fmt.Fprintf(config.Stderr, "%s: %v\n", config.Name, err)
		return 1
	}
	fmt.Fprintf(config.Stdout, "%s = %v\n", path, value)
	return 0
}

// parseValue reads raw as a YAML scalar or list; unparsable text stays a string.
func parseValue(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

func settingsValidate(m *pal.Manager, config *Config) int {
	if err := m.Validate(); err != nil {
		fmt.Fprintf(config.Stdout, "invalid configuration %s:\n%v\n", m.Path(), err)
		return 1
	}
	cfg, err := m.Config()
	if err != nil {
		fmt.Fprintf(config.Stdout, "invalid configuration %s:\n%v\n", m.Path(), err)
		return 1
	}
	for _, w := range pal.ValidateConfig(cfg) {
		fmt.Fprintf(config.Stdout, "warning: %s\n", w)
	}
	fmt.Fprintf(config.Stdout, "configuration %s is valid\n", m.Path())
	return 0
}

func run(m *pal.Manager, c *cli, config *Config) int {
	cfg, err := m.Config()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	logs, err := logging.Setup(cfg, logging.Options{Verbose: c.Verbose, Console: config.Stderr})
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		return 1
	}
	defer logs.Close()

	if err := m.Validate(); err != nil {
		slog.Error("invalid configuration", "path", m.Path(), "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting", "mode", c.Mode, "config", m.Path())

	engine := generate.NewEngine(ctx, m)
	defer engine.Close()

	switch c.Mode {
	case ModeAPI:
		addr := net.JoinHostPort(pal.ResolveAPIHost(cfg), strconv.Itoa(pal.ResolveAPIPort(cfg)))
		srv := serve.NewServer(engine, m, cfg.API.CORSOrigins)
		if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("server error", "error", err)
			return 1
		}
	default:
		in, err := repl.NewLineReader(config.Stdin, config.Stdout)
		if err != nil {
			slog.Error("failed to open terminal", "error", err)
			return 1
		}
		defer in.Close()
		if err := repl.New(engine, in, config.Stdout).Run(ctx); err != nil {
			slog.Error("interactive session failed", "error", err)
			return 1
		}
	}

	slog.Info("shutting down")
	return 0
}
