package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/izavyalov-dev/treebeard-action/internal/command"
	"github.com/izavyalov-dev/treebeard-action/internal/observability"
)

// ErrLaunch marks a child process that never started.
var ErrLaunch = errors.New("child process launch error")

const waitDelay = 5 * time.Second

// Executor runs a plan and interprets its exit status. Output is streamed
// to Stdout and Stderr untouched; only the exit status is inspected.
type Executor struct {
	Stdout io.Writer
	Stderr io.Writer
	Policy ExitPolicy
	Logger *slog.Logger
}

// New returns an executor streaming to the parent's stdout and stderr.
func New(policy ExitPolicy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = observability.NewLogger("executor")
	}
	return &Executor{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Policy: policy,
		Logger: logger,
	}
}

// Run launches the plan and blocks until the child exits or ctx ends. The
// child gets exactly plan.Env; the parent environment is never modified.
func (e *Executor) Run(ctx context.Context, plan command.Plan) Outcome {
	logger := e.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	program := filepath.Base(plan.Path)

	cmd := exec.CommandContext(ctx, plan.Path, plan.Args...)
	cmd.Dir = plan.Dir
	cmd.Env = plan.Env.Environ()
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	// Grandchildren holding the output pipes must not outlive a cancelled run.
	cmd.WaitDelay = waitDelay

	logger.Info("child process starting", "event", "child_starting", "program", program, "args", len(plan.Args), "env", len(cmd.Env))
	logger.Debug("child command line", "event", "child_command", "command", plan.CommandLine())

	start := time.Now()
	runErr := cmd.Run()
	outcome := e.interpret(ctx, runErr, cmd.ProcessState != nil)
	outcome.Program = program
	outcome.Duration = time.Since(start)

	logger.Info("child process finished", "event", "child_finished",
		"program", program,
		"outcome", outcome.Kind,
		"exit_code", outcome.Code,
		"cause", outcome.Cause,
		"duration_ms", outcome.Duration.Milliseconds(),
	)
	return outcome
}

func (e *Executor) interpret(ctx context.Context, runErr error, started bool) Outcome {
	if runErr == nil {
		return e.Policy.Classify(0)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Outcome{Kind: KindHardFailure, Code: -1, Cause: CauseTimeout, Err: ctx.Err()}
	}

	var ee *exec.ExitError
	if errors.As(runErr, &ee) {
		code := ee.ExitCode()
		if code < 0 {
			return Outcome{Kind: KindHardFailure, Code: code, Cause: CauseSignal, Err: runErr}
		}
		return e.Policy.Classify(code)
	}

	if !started {
		return Outcome{Kind: KindHardFailure, Code: -1, Cause: CauseLaunch, Err: fmt.Errorf("%w: %v", ErrLaunch, runErr)}
	}
	// Started but failed on I/O after exit: status is unknown, fail hard.
	return Outcome{Kind: KindHardFailure, Code: -1, Cause: CauseExit, Err: runErr}
}
