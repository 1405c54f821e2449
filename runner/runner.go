package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/izavyalov-dev/treebeard-action/internal/command"
	"github.com/izavyalov-dev/treebeard-action/internal/config"
	"github.com/izavyalov-dev/treebeard-action/internal/docker"
	"github.com/izavyalov-dev/treebeard-action/internal/environ"
	"github.com/izavyalov-dev/treebeard-action/internal/executor"
	"github.com/izavyalov-dev/treebeard-action/internal/inputs"
	"github.com/izavyalov-dev/treebeard-action/internal/observability"
	"github.com/izavyalov-dev/treebeard-action/internal/usage"
	"github.com/izavyalov-dev/treebeard-action/internal/vcs"
	"github.com/izavyalov-dev/treebeard-action/state"
)

// EnvReference carries the resolved reference into the child process.
const EnvReference = "TREEBEARD_REF"

// Ledger stores a record of each finished run.
type Ledger interface {
	RecordRun(ctx context.Context, rec state.RunRecord) (state.RunRecord, error)
}

// LogUploader ships the captured CLI output somewhere durable.
type LogUploader interface {
	UploadLog(ctx context.Context, repository, runID, ref, logPath string) (string, error)
}

// Options wires the engine's collaborators. Only the zero value of each
// optional collaborator disables it.
type Options struct {
	CLI                 string
	Python              string
	GitDir              string
	CanonicalRepository string
	// Environ is the parent environment; nil means os.Environ().
	Environ []string
	Stdout  io.Writer
	Stderr  io.Writer
	Policy  executor.ExitPolicy
	// LogPath, when set, receives a copy of the CLI output.
	LogPath  string
	Prober   usage.Prober
	Poster   usage.Poster
	Ledger   Ledger
	Uploader LogUploader
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine drives a single action run from configuration to outcome.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger("runner")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Engine{opts: opts, logger: logger}
}

// Prepared is everything needed to launch the CLI.
type Prepared struct {
	Reference string
	Plan      command.Plan
	Install   *command.Plan
	Configure *command.Plan
	Forward   []string
	Warnings  []string
}

// Setup lists the steps that must succeed before the CLI runs, in order.
func (p Prepared) Setup() []command.Plan {
	var steps []command.Plan
	if p.Install != nil {
		steps = append(steps, *p.Install)
	}
	if p.Configure != nil {
		steps = append(steps, *p.Configure)
	}
	return steps
}

// Prepare resolves the reference and registry credentials, merges the
// environment and builds the invocation. Nothing is launched.
func (e *Engine) Prepare(ctx context.Context, cfg config.RunConfiguration, trigger inputs.Trigger) (Prepared, error) {
	extra, warnings, err := environ.ParseExtra(cfg.NotebookEnv)
	if err != nil {
		return Prepared{}, err
	}
	for _, w := range warnings {
		e.logger.Warn(w, "event", "notebook_env_warning")
	}

	var (
		ref    string
		bundle docker.Bundle
	)
	resolver := vcs.Resolver{CanonicalRepository: e.opts.CanonicalRepository, GitDir: e.opts.GitDir}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ref, err = resolver.Resolve(trigger)
		return err
	})
	g.Go(func() error {
		var err error
		bundle, _, err = docker.Resolve(cfg.Docker, trigger.IsPullRequest(), e.logger)
		return err
	})
	if err := g.Wait(); err != nil {
		return Prepared{}, err
	}

	base := e.opts.Environ
	if base == nil {
		base = os.Environ()
	}
	runScoped := append([]environ.Entry{{Name: EnvReference, Value: ref}}, bundle.Entries()...)
	merged := environ.Merge(environ.MergeInput{
		Base:      environ.FromEnviron(base),
		Policy:    environ.PolicyFor(cfg.EnvPolicy, cfg.EnvPrefix),
		Extra:     extra,
		RunScoped: runScoped,
	})

	prepared := Prepared{
		Reference: ref,
		Forward:   merged.Forward,
		Warnings:  warnings,
		Plan: command.Build(command.Input{
			CLI:       e.opts.CLI,
			Config:    cfg,
			Reference: ref,
			Forward:   merged.Forward,
			Env:       merged.Env,
		}),
	}
	if cfg.InstallCLI {
		install, err := command.BuildInstall(e.opts.Python, ref, merged.Env)
		if err != nil {
			return Prepared{}, err
		}
		prepared.Install = &install
	}
	if cfg.Upload() {
		configure := command.BuildConfigure(e.opts.CLI, cfg.APIKey, trigger.RepositoryOwner(), merged.Env)
		configure.Dir = cfg.WorkDir
		prepared.Configure = &configure
	}
	return prepared, nil
}

// Result is the interpreted end state of a run.
type Result struct {
	Reference      string
	Outcome        executor.Outcome
	UsageDelivered bool
	LogURI         string
}

// Run prepares and executes the CLI, then reports. Configuration and
// resolution errors are returned before anything is launched; once the CLI
// has run, every reporting failure is logged and swallowed.
func (e *Engine) Run(ctx context.Context, cfg config.RunConfiguration, trigger inputs.Trigger) (Result, error) {
	logger := observability.WithRun(e.logger, trigger.Repository, trigger.RunID)
	eligibility := usage.StartEligibility(ctx, cfg.UsageLogging, trigger.Repository, e.opts.Prober, logger)
	start := e.opts.Now()

	prepared, err := e.Prepare(ctx, cfg, trigger)
	if err != nil {
		logger.Error("run preparation failed", "event", "run_prepare_failed", "error", err)
		return Result{}, err
	}
	logger = observability.WithRef(logger, prepared.Reference)
	logger.Info("invocation prepared", "event", "run_prepared", "forward", len(prepared.Forward), "command", prepared.Plan.CommandLine())

	stdout, stderr, closeLog := e.outputs(logger)
	child := &executor.Executor{Stdout: stdout, Stderr: stderr, Policy: e.opts.Policy, Logger: logger}

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var outcome executor.Outcome
	ready := true
	setup := &executor.Executor{Stdout: stdout, Stderr: stderr, Policy: executor.StrictExitPolicy(), Logger: logger}
	for _, step := range prepared.Setup() {
		outcome = setup.Run(runCtx, step)
		if outcome.Kind != executor.KindSuccess {
			logger.Error("setup step failed", "event", "run_setup_failed", "command", step.CommandLine(), "exit_code", outcome.Code)
			ready = false
			break
		}
	}
	if ready {
		outcome = child.Run(runCtx, prepared.Plan)
		e.opts.Metrics.IncExit(outcome.Code)
		e.opts.Metrics.ObserveChild(outcome.Duration)
	}
	closeLog()
	end := e.opts.Now()
	e.opts.Metrics.IncRun(string(outcome.Kind))

	result := Result{Reference: prepared.Reference, Outcome: outcome}
	result.LogURI = e.uploadLog(ctx, logger, trigger, prepared.Reference)

	if eligibility.Wait(ctx) {
		reporter := usage.NewReporter(e.opts.Poster, trigger.Repository, trigger.RunID, logger, e.opts.Metrics)
		result.UsageDelivered = reporter.Report(ctx, outcome, start, end, trigger.SHA, prepared.Reference)
	}

	e.record(ctx, logger, trigger, result, start, end)
	return result, nil
}

func (e *Engine) outputs(logger *slog.Logger) (io.Writer, io.Writer, func()) {
	if e.opts.LogPath == "" {
		return e.opts.Stdout, e.opts.Stderr, func() {}
	}
	file, err := os.Create(e.opts.LogPath)
	if err != nil {
		logger.Warn("open output log", "event", "output_log_failed", "error", err)
		return e.opts.Stdout, e.opts.Stderr, func() {}
	}
	return io.MultiWriter(e.opts.Stdout, file), io.MultiWriter(e.opts.Stderr, file), func() {
		if err := file.Sync(); err != nil {
			logger.Warn("sync output log", "event", "output_log_failed", "error", err)
		}
		_ = file.Close()
	}
}

func (e *Engine) uploadLog(ctx context.Context, logger *slog.Logger, trigger inputs.Trigger, ref string) string {
	if e.opts.Uploader == nil || e.opts.LogPath == "" {
		return ""
	}
	uri, err := e.opts.Uploader.UploadLog(ctx, trigger.Repository, trigger.RunID, ref, e.opts.LogPath)
	if err != nil {
		logger.Warn("upload output log", "event", "artifact_upload_failed", "error", err)
		return ""
	}
	logger.Info("output log uploaded", "event", "artifact_uploaded", "uri", uri)
	return uri
}

func (e *Engine) record(ctx context.Context, logger *slog.Logger, trigger inputs.Trigger, result Result, start, end time.Time) {
	if e.opts.Ledger == nil {
		return
	}
	rec, err := e.opts.Ledger.RecordRun(ctx, state.RunRecord{
		Repository:     trigger.Repository,
		RunID:          trigger.RunID,
		Ref:            result.Reference,
		CommitSHA:      trigger.SHA,
		EventName:      trigger.EventName,
		Outcome:        string(result.Outcome.Kind),
		ExitCode:       result.Outcome.Code,
		Cause:          string(result.Outcome.Cause),
		UsageDelivered: result.UsageDelivered,
		LogURI:         result.LogURI,
		StartedAt:      start.UTC(),
		FinishedAt:     end.UTC(),
	})
	if err != nil {
		logger.Warn("record run", "event", "run_record_failed", "error", err)
		return
	}
	logger.Debug("run recorded", "event", "run_recorded", "record_id", rec.ID)
}
