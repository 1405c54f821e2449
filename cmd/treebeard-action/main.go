package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/izavyalov-dev/treebeard-action/internal/config"
	"github.com/izavyalov-dev/treebeard-action/internal/executor"
	"github.com/izavyalov-dev/treebeard-action/internal/inputs"
	"github.com/izavyalov-dev/treebeard-action/internal/observability"
	"github.com/izavyalov-dev/treebeard-action/internal/vcs"
	"github.com/izavyalov-dev/treebeard-action/internal/vcs/github"
	"github.com/izavyalov-dev/treebeard-action/protocol"
	"github.com/izavyalov-dev/treebeard-action/runner"
	"github.com/izavyalov-dev/treebeard-action/runner/artifacts"
	"github.com/izavyalov-dev/treebeard-action/runner/transport"
	"github.com/izavyalov-dev/treebeard-action/state"
)

func main() {
	args := os.Args[1:]
	command := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "run":
		code = runAction(args, os.Stdout)
	case "plan":
		if err := runPlan(args, os.Stdout); err != nil {
			code = fail(os.Stdout, err)
		}
	case "history":
		if err := runHistory(args, os.Stdout); err != nil {
			code = fail(os.Stdout, err)
		}
	default:
		usage()
		code = 1
	}
	os.Exit(code)
}

func usage() {
	fmt.Println("Usage: treebeard-action <run|plan|history> [flags]")
}

type commonFlags struct {
	inputsFile    string
	cli           string
	python        string
	gitDir        string
	canonicalRepo string
}

func (c *commonFlags) add(flags *pflag.FlagSet) {
	flags.StringVar(&c.inputsFile, "inputs-file", "", "YAML file of action inputs; overrides INPUT_* variables")
	flags.StringVar(&c.cli, "cli", "treebeard", "Notebook runner executable")
	flags.StringVar(&c.python, "python", "python3", "Python used to install the runner")
	flags.StringVar(&c.gitDir, "git-dir", ".git", "Git metadata directory used to resolve the reference")
	flags.StringVar(&c.canonicalRepo, "canonical-repo", vcs.DefaultCanonicalRepository, "Repository whose pull requests pin the runner to the merge ref")
}

func (c *commonFlags) load() (config.RunConfiguration, inputs.Trigger, error) {
	var src inputs.Chain
	if c.inputsFile != "" {
		file, err := inputs.LoadFile(c.inputsFile)
		if err != nil {
			return config.RunConfiguration{}, inputs.Trigger{}, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
		src = append(src, file)
	}
	src = append(src, inputs.EnvSource{})

	cfg, err := config.Load(src)
	if err != nil {
		return config.RunConfiguration{}, inputs.Trigger{}, err
	}
	return cfg, inputs.LoadTrigger(os.Getenv), nil
}

func runAction(args []string, out io.Writer) int {
	flags := pflag.NewFlagSet("run", pflag.ExitOnError)
	var common commonFlags
	common.add(flags)
	databaseURL := flags.String("database-url", os.Getenv("DATABASE_URL"), "Postgres DSN for the run ledger (optional)")
	telemetryURL := flags.String("telemetry-url", transport.DefaultBaseURL, "Usage logging endpoint")
	githubURL := flags.String("github-api-url", envOr("GITHUB_API_URL", "https://api.github.com"), "GitHub API base URL for the visibility probe")
	logFile := flags.String("log-file", "", "Write a copy of the runner output to this file")
	s3Bucket := flags.String("log-s3-bucket", "", "S3 bucket for the runner output log")
	s3Prefix := flags.String("log-s3-prefix", "", "S3 key prefix for the runner output log")
	s3Region := flags.String("log-s3-region", "", "AWS region for S3 (optional)")
	metricsFile := flags.String("metrics-file", "", "Write run metrics in Prometheus text format to this file")
	_ = flags.Parse(args)

	cfg, trigger, err := common.load()
	if err != nil {
		return fail(out, err)
	}

	logger := observability.NewLoggerTo(os.Stdout, "action", cfg.Debug)
	logger = observability.WithSecretHint(logger, "api_key", cfg.APIKey)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := github.NewClient("")
	prober.BaseURL = *githubURL

	metrics := observability.NewMetrics()
	opts := runner.Options{
		CLI:                 common.cli,
		Python:              common.python,
		GitDir:              common.gitDir,
		CanonicalRepository: common.canonicalRepo,
		Policy:              executor.DefaultExitPolicy(),
		LogPath:             *logFile,
		Prober:              prober,
		Poster:              transport.NewHTTPClient(*telemetryURL),
		Metrics:             metrics,
		Logger:              logger,
	}

	if *s3Bucket != "" {
		if opts.LogPath == "" {
			opts.LogPath = "treebeard-output.log"
		}
		uploader, err := artifacts.NewS3Uploader(ctx, artifacts.S3Config{Bucket: *s3Bucket, Prefix: *s3Prefix, Region: *s3Region})
		if err != nil {
			logger.Warn("init s3 uploader", "event", "artifact_upload_failed", "error", err)
		} else {
			opts.Uploader = uploader
		}
	}

	if *databaseURL != "" {
		db, err := state.Open(ctx, *databaseURL)
		if err != nil {
			logger.Warn("open run ledger", "event", "run_ledger_unavailable", "error", err)
		} else {
			defer db.Close()
			store := state.NewStore(db)
			if err := store.ApplyMigrations(ctx); err != nil {
				logger.Warn("migrate run ledger", "event", "run_ledger_unavailable", "error", err)
			} else {
				opts.Ledger = store
			}
		}
	}

	result, err := runner.New(opts).Run(ctx, cfg, trigger)
	if err != nil {
		return fail(out, err)
	}
	if err := metrics.WriteTextfile(*metricsFile); err != nil {
		logger.Warn("write metrics file", "event", "metrics_write_failed", "error", err)
	}

	return report(out, logger, result.Outcome)
}

// report prints the pipeline annotation for an outcome and returns the
// process exit code. Soft failures pass the step.
func report(out io.Writer, logger *slog.Logger, outcome executor.Outcome) int {
	switch outcome.Kind {
	case executor.KindSuccess:
		logger.Info("run succeeded", "event", "run_succeeded")
		return 0
	case executor.KindSoftFailure:
		logger.Warn(outcome.Message(), "event", "run_soft_failed", "exit_code", outcome.Code)
		fmt.Fprintf(out, "::warning::%s\n", outcome.Message())
		return 0
	default:
		logger.Error(outcome.Message(), "event", "run_failed", "exit_code", outcome.Code, "cause", outcome.Cause)
		fmt.Fprintf(out, "::error::%s\n", outcome.Message())
		return 1
	}
}

func runPlan(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("plan", pflag.ExitOnError)
	var common commonFlags
	common.add(flags)
	_ = flags.Parse(args)

	cfg, trigger, err := common.load()
	if err != nil {
		return err
	}

	engine := runner.New(runner.Options{
		CLI:                 common.cli,
		Python:              common.python,
		GitDir:              common.gitDir,
		CanonicalRepository: common.canonicalRepo,
		Logger:              observability.NewLoggerTo(os.Stderr, "plan", cfg.Debug),
	})
	prepared, err := engine.Prepare(context.Background(), cfg, trigger)
	if err != nil {
		return err
	}

	var setup []string
	for _, step := range prepared.Setup() {
		setup = append(setup, step.CommandLine())
	}
	summary := protocol.PlanSummary{
		Type:        "PlanSummary",
		Reference:   prepared.Reference,
		Setup:       setup,
		Argv:        prepared.Plan.Argv(),
		CommandLine: prepared.Plan.CommandLine(),
		Forward:     prepared.Forward,
		Dir:         prepared.Plan.Dir,
		Warnings:    prepared.Warnings,
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// runHistory prints recorded runs from the ledger: one run by --id, or the
// most recent runs of a repository and ref.
func runHistory(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("history", pflag.ExitOnError)
	databaseURL := flags.String("database-url", os.Getenv("DATABASE_URL"), "Postgres DSN for the run ledger")
	id := flags.String("id", "", "Run record id")
	repository := flags.String("repo", os.Getenv("GITHUB_REPOSITORY"), "Repository owner/name")
	ref := flags.String("ref", "", "Reference the runs were pinned to")
	limit := flags.Int("limit", 20, "Maximum number of runs")
	_ = flags.Parse(args)

	if *databaseURL == "" {
		return fmt.Errorf("%w: --database-url is required", config.ErrConfiguration)
	}
	ctx := context.Background()
	db, err := state.Open(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	store := state.NewStore(db)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if *id != "" {
		rec, err := store.GetRun(ctx, *id)
		if err != nil {
			return err
		}
		return enc.Encode(rec)
	}
	if *repository == "" || *ref == "" {
		return fmt.Errorf("%w: --repo and --ref are required without --id", config.ErrConfiguration)
	}
	runs, err := store.ListRunsByRef(ctx, *repository, *ref, *limit)
	if err != nil {
		return err
	}
	return enc.Encode(runs)
}

// fail reports a fatal error the way the CI platform expects and returns the exit code.
func fail(out io.Writer, err error) int {
	fmt.Fprintf(out, "::error::%v\n", err)
	return 1
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
