package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/piperunner/internal/actions"
	"git.home.luguber.info/inful/piperunner/internal/config"
	"git.home.luguber.info/inful/piperunner/internal/daemon"
	"git.home.luguber.info/inful/piperunner/internal/definition"
	"git.home.luguber.info/inful/piperunner/internal/events"
	"git.home.luguber.info/inful/piperunner/internal/logfields"
	"git.home.luguber.info/inful/piperunner/internal/pipeline"
	"git.home.luguber.info/inful/piperunner/internal/report"
	"git.home.luguber.info/inful/piperunner/internal/version"
	"git.home.luguber.info/inful/piperunner/internal/workspace"
)

// defaultConfigPath is picked up automatically when --config is not given and
// the file exists in the working directory.
const defaultConfigPath = "piperunner.yaml"

var CLI struct {
	Config  string `short:"c" help:"Configuration file path (piperunner.yaml is picked up when present)"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Definition string            `short:"f" help:"Pipeline definition file" default:"pipeline.yaml"`
		Branch     string            `short:"b" help:"Branch recorded on the run"`
		Env        map[string]string `short:"e" help:"Extra environment entries as KEY=VALUE"`
		EnvFile    string            `help:"Extra env file loaded before the run (dotenv format)"`
		Workspace  string            `short:"w" help:"Workspace root overriding the configured one"`
		Artifacts  string            `short:"a" help:"Directory to write report artifacts (report.json, report.md, report.html)"`
		ReportOnly bool              `help:"Run every stage even after a failure"`
		DryRun     bool              `help:"Print each step instead of executing it"`
	} `cmd:"" help:"Execute a pipeline definition once and print its report"`

	Validate struct {
		Definition string            `short:"f" help:"Pipeline definition file" default:"pipeline.yaml"`
		Env        map[string]string `short:"e" help:"Environment entries the run would be given as KEY=VALUE"`
	} `cmd:"" help:"Check a pipeline definition without running it"`

	Render struct {
		Report string `arg:"" help:"report.json written by a previous run"`
		Format string `help:"Output format" enum:"text,markdown,html" default:"text"`
		Output string `short:"o" help:"Write to a file instead of stdout"`
	} `cmd:"" help:"Render a stored run report as text, markdown or HTML"`

	Init struct {
		Definition string `short:"f" help:"Where to write the example definition" default:"pipeline.yaml"`
		Force      bool   `help:"Overwrite existing files"`
	} `cmd:"" help:"Write an example pipeline definition and configuration file"`

	Daemon struct {
		Definition string `short:"f" help:"Pipeline definition file" default:"pipeline.yaml"`
	} `cmd:"" help:"Run the pipeline daemon with its HTTP API"`

	Version struct{} `cmd:"" help:"Print the version"`
}

func main() {
	ctx := kong.Parse(&CLI)

	// Set up logging
	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	switch ctx.Command() {
	case "run":
		runOnce()
	case "validate":
		runValidate()
	case "render <report>":
		runRender()
	case "init":
		runInit()
	case "daemon":
		runDaemon()
	case "version":
		fmt.Printf("piperunner %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	default:
		slog.Error("Unknown command", slog.String("command", ctx.Command()))
		os.Exit(1)
	}
}

// loadConfig loads the runner configuration. An explicit --config path must
// exist; the default path is used only when the file is actually there.
func loadConfig() (*config.Config, error) {
	if CLI.Config != "" {
		return config.Load(CLI.Config)
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return config.Load(defaultConfigPath)
	}
	return config.Default(), nil
}

func loadGraph(cfg *config.Config, path string) (*pipeline.Graph, error) {
	doc, err := definition.Load(path)
	if err != nil {
		return nil, err
	}
	return definition.Build(doc, definition.BuildOptions{DefaultTimeout: cfg.StepTimeout()})
}

func runOnce() {
	// The env file loads before the config so its variables are visible to
	// ${VAR} expansion there. Existing process variables are never overridden.
	if CLI.Run.EnvFile != "" {
		if err := godotenv.Load(CLI.Run.EnvFile); err != nil {
			slog.Error("Failed to load env file", logfields.Path(CLI.Run.EnvFile), logfields.Error(err))
			os.Exit(1)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", logfields.Error(err))
		os.Exit(1)
	}
	if CLI.Run.Workspace != "" {
		cfg.Workspace.Root = CLI.Run.Workspace
	}

	g, err := loadGraph(cfg, CLI.Run.Definition)
	if err != nil {
		slog.Error("Failed to load pipeline definition", logfields.Error(err))
		os.Exit(1)
	}
	if CLI.Run.ReportOnly {
		g.ReportOnly = true
	}

	branch := CLI.Run.Branch
	if branch == "" {
		branch = cfg.Defaults.Branch
	}

	var ws *workspace.Manager
	if cfg.Workspace.Persistent {
		ws = workspace.NewPersistentManager(cfg.Workspace.Root, "")
	} else {
		ws = workspace.NewManager(cfg.Workspace.Root)
	}
	runID := uuid.NewString()
	if err := ws.Create(runID); err != nil {
		slog.Error("Failed to create workspace", logfields.Error(err))
		os.Exit(1)
	}

	opts := []pipeline.Option{
		pipeline.WithOutputCap(cfg.Defaults.OutputCap),
		pipeline.WithRetryPolicy(cfg.RetryPolicy()),
		pipeline.WithCleanup(func(pipeline.Meta) error { return ws.Cleanup() }),
	}
	var emitter events.Emitter
	if cfg.Events != nil {
		nats, err := events.NewNATSEmitter(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			slog.Error("Failed to connect event emitter", logfields.Error(err))
			os.Exit(1)
		}
		emitter = nats
		opts = append(opts, pipeline.WithNotifier(events.NewBridge(emitter)))
	}
	var exec pipeline.Executor = actions.Default()
	if CLI.Run.DryRun {
		exec = actions.NewDryRun()
	}
	ctrl := pipeline.NewController(exec, opts...)

	// The first interrupt aborts the run cooperatively so the report still
	// gets assembled; a second one exits immediately.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		slog.Warn("Interrupt received, aborting run (interrupt again to exit immediately)")
		cancel()
		<-sigCh
		os.Exit(130)
	}()

	rep, err := ctrl.Run(ctx, g, pipeline.RunSpec{
		RunID:     runID,
		Number:    1,
		Branch:    branch,
		Workspace: ws.GetPath(),
		Env:       CLI.Run.Env,
		Resolver:  cfg.Resolver(),
	})
	if emitter != nil {
		if cerr := emitter.Close(); cerr != nil {
			slog.Warn("Failed to close event emitter", logfields.Error(cerr))
		}
	}
	if err != nil {
		if cerr := ws.Cleanup(); cerr != nil {
			slog.Warn("Failed to clean up workspace", logfields.Error(cerr))
		}
		slog.Error("Run could not start", logfields.Error(err))
		os.Exit(1)
	}

	if CLI.Run.Artifacts != "" {
		if err := report.WriteArtifacts(CLI.Run.Artifacts, rep); err != nil {
			slog.Warn("Failed to write report artifacts", logfields.Error(err))
		}
	}

	fmt.Print(report.Text(rep))
	slog.Info("Run finished",
		logfields.RunID(rep.RunID),
		logfields.Pipeline(rep.Pipeline),
		logfields.Status(string(rep.Status)),
	)

	switch rep.Status {
	case pipeline.RunFailed:
		os.Exit(1)
	case pipeline.RunAborted:
		os.Exit(2)
	}
}

func runValidate() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", logfields.Error(err))
		os.Exit(1)
	}
	g, err := loadGraph(cfg, CLI.Validate.Definition)
	if err != nil {
		slog.Error("Definition is invalid", logfields.Path(CLI.Validate.Definition), logfields.Error(err))
		os.Exit(1)
	}
	if err := pipeline.CheckReferences(g, CLI.Validate.Env); err != nil {
		slog.Error("Definition is invalid", logfields.Pipeline(g.Name), logfields.Error(err))
		os.Exit(1)
	}
	slog.Info("Definition is valid",
		logfields.Pipeline(g.Name),
		slog.Int("stages", len(g.Stages())),
		slog.Int("groups", len(g.Groups)),
	)
}

func runRender() {
	data, err := os.ReadFile(CLI.Render.Report)
	if err != nil {
		slog.Error("Failed to read report", logfields.Error(err))
		os.Exit(1)
	}
	var rep pipeline.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		slog.Error("Failed to parse report", logfields.Path(CLI.Render.Report), logfields.Error(err))
		os.Exit(1)
	}

	var out []byte
	switch CLI.Render.Format {
	case "markdown":
		out = []byte(report.Markdown(&rep))
	case "html":
		out, err = report.HTML(&rep)
		if err != nil {
			slog.Error("Failed to render report", logfields.Error(err))
			os.Exit(1)
		}
	default:
		out = []byte(report.Text(&rep))
	}

	if CLI.Render.Output != "" {
		if err := os.WriteFile(CLI.Render.Output, out, 0o644); err != nil {
			slog.Error("Failed to write output", logfields.Path(CLI.Render.Output), logfields.Error(err))
			os.Exit(1)
		}
		return
	}
	fmt.Print(string(out))
}

func runInit() {
	cfgPath := CLI.Config
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	if err := definition.Init(CLI.Init.Definition, CLI.Init.Force); err != nil {
		slog.Error("Failed to write example definition", logfields.Error(err))
		os.Exit(1)
	}
	if err := config.Init(cfgPath, CLI.Init.Force); err != nil {
		slog.Error("Failed to write example configuration", logfields.Error(err))
		os.Exit(1)
	}
	slog.Info("Example files written",
		slog.String("definition", CLI.Init.Definition),
		slog.String("config", cfgPath),
	)
}

func runDaemon() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", logfields.Error(err))
		os.Exit(1)
	}
	cfg.EnsureDaemon()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid daemon configuration", logfields.Error(err))
		os.Exit(1)
	}

	g, err := loadGraph(cfg, CLI.Daemon.Definition)
	if err != nil {
		slog.Error("Failed to load pipeline definition", logfields.Error(err))
		os.Exit(1)
	}

	d, err := daemon.NewDaemon(cfg, g, CLI.Daemon.Definition)
	if err != nil {
		slog.Error("Failed to create daemon", logfields.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			slog.Error("Daemon failed", logfields.Error(err))
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.Stop(stopCtx); err != nil {
			slog.Error("Failed to stop daemon", logfields.Error(err))
			os.Exit(1)
		}
	}
}
