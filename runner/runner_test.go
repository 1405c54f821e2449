package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/izavyalov-dev/treebeard-action/internal/config"
	"github.com/izavyalov-dev/treebeard-action/internal/docker"
	"github.com/izavyalov-dev/treebeard-action/internal/executor"
	"github.com/izavyalov-dev/treebeard-action/internal/inputs"
	"github.com/izavyalov-dev/treebeard-action/internal/observability"
	"github.com/izavyalov-dev/treebeard-action/protocol"
	"github.com/izavyalov-dev/treebeard-action/state"
)

const fakeCLI = `#!/bin/sh
echo "$*" >> "$CALLS_FILE"
if [ "$1" = "configure" ]; then
	exit "${CONFIGURE_EXIT:-0}"
fi
printf '%s\n' "$@" > "$ARGS_FILE"
printf '%s' "$TREEBEARD_REF" > "$REF_FILE"
echo "running notebooks"
exit "${EXIT_CODE:-0}"
`

type fixture struct {
	dir       string
	cli       string
	gitDir    string
	argsFile  string
	refFile   string
	callsFile string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	f := fixture{
		dir:       dir,
		cli:       filepath.Join(dir, "treebeard"),
		gitDir:    filepath.Join(dir, ".git"),
		argsFile:  filepath.Join(dir, "args.txt"),
		refFile:   filepath.Join(dir, "ref.txt"),
		callsFile: filepath.Join(dir, "calls.txt"),
	}
	if err := os.WriteFile(f.cli, []byte(fakeCLI), 0o755); err != nil {
		t.Fatalf("write cli: %v", err)
	}
	if err := os.MkdirAll(f.gitDir, 0o755); err != nil {
		t.Fatalf("mkdir git: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatalf("write HEAD: %v", err)
	}
	return f
}

func (f fixture) environ(exitCode string) []string {
	return []string{
		"ARGS_FILE=" + f.argsFile,
		"REF_FILE=" + f.refFile,
		"CALLS_FILE=" + f.callsFile,
		"EXIT_CODE=" + exitCode,
		"PATH=/usr/bin:/bin",
	}
}

func (f fixture) args(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func (f fixture) calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.callsFile)
	if err != nil {
		t.Fatalf("read calls: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

type fakePoster struct {
	logs []protocol.UsageLog
}

func (p *fakePoster) PostUsage(ctx context.Context, repository, runID string, log protocol.UsageLog) (bool, error) {
	p.logs = append(p.logs, log)
	return true, nil
}

type fakeLedger struct {
	records []state.RunRecord
	err     error
}

func (l *fakeLedger) RecordRun(ctx context.Context, rec state.RunRecord) (state.RunRecord, error) {
	if l.err != nil {
		return state.RunRecord{}, l.err
	}
	rec.ID = "id-1"
	l.records = append(l.records, rec)
	return rec, nil
}

type fakeUploader struct {
	content string
	ref     string
}

func (u *fakeUploader) UploadLog(ctx context.Context, repository, runID, ref, logPath string) (string, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return "", err
	}
	u.content, u.ref = string(data), ref
	return "s3://bucket/log", nil
}

var pushTrigger = inputs.Trigger{Repository: "octo/repo", RunID: "42", SHA: "abc", EventName: "push"}

func TestRunSoftFailureEndToEnd(t *testing.T) {
	f := newFixture(t)
	poster := &fakePoster{}
	ledger := &fakeLedger{}
	metrics := observability.NewMetrics()
	var stdout bytes.Buffer

	engine := New(Options{
		CLI:     f.cli,
		GitDir:  f.gitDir,
		Environ: f.environ("2"),
		Stdout:  &stdout,
		Stderr:  &stdout,
		Poster:  poster,
		Ledger:  ledger,
		Metrics: metrics,
		Logger:  observability.Discard(),
	})
	cfg := config.RunConfiguration{
		Notebooks:    []string{"nb/*.ipynb"},
		WorkDir:      f.dir,
		NotebookEnv:  "A=1\nB=2",
		UsageLogging: config.UsageLoggingOn,
		EnvPolicy:    config.EnvPolicyPrefix,
		EnvPrefix:    "TB_",
	}

	result, err := engine.Run(context.Background(), cfg, pushTrigger)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome.Kind != executor.KindSoftFailure || result.Outcome.Code != 2 {
		t.Fatalf("unexpected outcome %+v", result.Outcome)
	}
	if !result.Outcome.PipelineSucceeded() {
		t.Fatal("soft failure must not fail the pipeline")
	}

	want := []string{"run", "--confirm", "--env", "A", "--env", "B", "--notebooks", "nb/*.ipynb", "--dockerless"}
	if got := f.args(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected cli args: %v", got)
	}
	if ref, _ := os.ReadFile(f.refFile); string(ref) != "refs/heads/main" {
		t.Fatalf("unexpected reference in child env %q", ref)
	}
	if !strings.Contains(stdout.String(), "running notebooks") {
		t.Fatalf("child output not streamed: %q", stdout.String())
	}

	if !result.UsageDelivered || len(poster.logs) != 1 {
		t.Fatalf("expected one delivered usage log, got %+v", poster.logs)
	}
	if log := poster.logs[0]; log.Status != protocol.UsageStatusFailure || log.Branch != "refs/heads/main" || log.SHA != "abc" {
		t.Fatalf("unexpected usage log %+v", log)
	}

	if len(ledger.records) != 1 {
		t.Fatalf("expected one ledger record, got %d", len(ledger.records))
	}
	if rec := ledger.records[0]; rec.Outcome != "soft_failure" || rec.ExitCode != 2 || !rec.UsageDelivered {
		t.Fatalf("unexpected ledger record %+v", rec)
	}
	if got := testutil.ToFloat64(metrics.Runs("soft_failure")); got != 1 {
		t.Fatalf("expected soft failure counted once, got %v", got)
	}
}

func TestRunUsageOffSendsNothing(t *testing.T) {
	f := newFixture(t)
	poster := &fakePoster{}
	engine := New(Options{
		CLI:     f.cli,
		GitDir:  f.gitDir,
		Environ: f.environ("0"),
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
		Poster:  poster,
		Logger:  observability.Discard(),
	})
	result, err := engine.Run(context.Background(), config.RunConfiguration{WorkDir: f.dir, UsageLogging: config.UsageLoggingOff}, pushTrigger)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome.Kind != executor.KindSuccess {
		t.Fatalf("unexpected outcome %+v", result.Outcome)
	}
	if result.UsageDelivered || len(poster.logs) != 0 {
		t.Fatal("usage must not be reported when disabled")
	}
}

func TestRunConfigurationErrorLaunchesNothing(t *testing.T) {
	f := newFixture(t)
	ledger := &fakeLedger{}
	engine := New(Options{
		CLI:     f.cli,
		GitDir:  f.gitDir,
		Environ: f.environ("0"),
		Ledger:  ledger,
		Logger:  observability.Discard(),
	})
	cfg := config.RunConfiguration{WorkDir: f.dir, Docker: config.Docker{Username: "u"}}

	_, err := engine.Run(context.Background(), cfg, pushTrigger)
	if !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, statErr := os.Stat(f.argsFile); !os.IsNotExist(statErr) {
		t.Fatal("cli must not run after a configuration error")
	}
	if len(ledger.records) != 0 {
		t.Fatal("nothing must be recorded before launch")
	}

	if _, err := engine.Run(context.Background(), config.RunConfiguration{WorkDir: f.dir, NotebookEnv: "not an assignment"}, pushTrigger); !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected configuration error for bad notebook-env, got %v", err)
	}
}

func TestPrepareStagesCredentialsWithoutForwarding(t *testing.T) {
	f := newFixture(t)
	engine := New(Options{CLI: f.cli, GitDir: f.gitDir, Environ: []string{"TB_KEEP=1", "OTHER=2"}, Logger: observability.Discard()})
	cfg := config.RunConfiguration{
		WorkDir:   f.dir,
		UseDocker: true,
		EnvPolicy: config.EnvPolicyPrefix,
		EnvPrefix: "TB_",
		Docker:    config.Docker{Username: "u", Password: "p", RegistryPrefix: "gcr.io/x"},
	}

	prepared, err := engine.Prepare(context.Background(), cfg, pushTrigger)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !reflect.DeepEqual(prepared.Forward, []string{"TB_KEEP"}) {
		t.Fatalf("unexpected forward list %v", prepared.Forward)
	}
	for name, want := range map[string]string{
		docker.EnvUsername:       "u",
		docker.EnvPassword:       "p",
		docker.EnvRegistryPrefix: "gcr.io/x",
		EnvReference:             "refs/heads/main",
		"OTHER":                  "2",
	} {
		if got, _ := prepared.Plan.Env.Get(name); got != want {
			t.Fatalf("%s: expected %q, got %q", name, want, got)
		}
	}
	if strings.Contains(prepared.Plan.CommandLine(), "gcr.io") || strings.Contains(prepared.Plan.CommandLine(), "DOCKER") {
		t.Fatalf("credentials leaked into command line %q", prepared.Plan.CommandLine())
	}
	if strings.Contains(prepared.Plan.CommandLine(), "--dockerless") {
		t.Fatal("docker mode must not pass --dockerless")
	}
}

func TestPrepareSkipsCredentialsOnPullRequest(t *testing.T) {
	f := newFixture(t)
	engine := New(Options{CLI: f.cli, GitDir: f.gitDir, Environ: []string{}, Logger: observability.Discard()})
	cfg := config.RunConfiguration{WorkDir: f.dir, Docker: config.Docker{Username: "u"}}
	trigger := inputs.Trigger{Repository: "octo/repo", EventName: inputs.EventPullRequest}

	prepared, err := engine.Prepare(context.Background(), cfg, trigger)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if prepared.Plan.Env.Has(docker.EnvUsername) {
		t.Fatal("credentials must be skipped on a pull request without password")
	}
}

func TestRunInstallFailureSkipsCLI(t *testing.T) {
	f := newFixture(t)
	python := filepath.Join(f.dir, "python")
	if err := os.WriteFile(python, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write python: %v", err)
	}
	engine := New(Options{
		CLI:     f.cli,
		Python:  python,
		GitDir:  f.gitDir,
		Environ: f.environ("0"),
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
		Logger:  observability.Discard(),
	})
	result, err := engine.Run(context.Background(), config.RunConfiguration{WorkDir: f.dir, InstallCLI: true}, pushTrigger)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome.Kind != executor.KindHardFailure || result.Outcome.Program != "python" {
		t.Fatalf("expected install failure, got %+v", result.Outcome)
	}
	if _, statErr := os.Stat(f.argsFile); !os.IsNotExist(statErr) {
		t.Fatal("cli must not run when installation fails")
	}
}

func TestRunCapturesAndUploadsLog(t *testing.T) {
	f := newFixture(t)
	uploader := &fakeUploader{}
	ledger := &fakeLedger{err: errors.New("database down")}
	engine := New(Options{
		CLI:      f.cli,
		GitDir:   f.gitDir,
		Environ:  f.environ("1"),
		Stdout:   &bytes.Buffer{},
		Stderr:   &bytes.Buffer{},
		LogPath:  filepath.Join(f.dir, "output.log"),
		Uploader: uploader,
		Ledger:   ledger,
		Logger:   observability.Discard(),
		Now:      func() time.Time { return time.Unix(0, 0) },
	})
	result, err := engine.Run(context.Background(), config.RunConfiguration{WorkDir: f.dir}, pushTrigger)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome.Kind != executor.KindHardFailure || result.Outcome.Code != 1 {
		t.Fatalf("unexpected outcome %+v", result.Outcome)
	}
	if result.LogURI != "s3://bucket/log" {
		t.Fatalf("unexpected log uri %q", result.LogURI)
	}
	if !strings.Contains(uploader.content, "running notebooks") || uploader.ref != "refs/heads/main" {
		t.Fatalf("unexpected uploaded log %q for %q", uploader.content, uploader.ref)
	}
}

func TestRunConfiguresAPIKeyBeforeUpload(t *testing.T) {
	f := newFixture(t)
	var logs bytes.Buffer
	engine := New(Options{
		CLI:     f.cli,
		GitDir:  f.gitDir,
		Environ: f.environ("0"),
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
		Logger:  observability.NewLoggerTo(&logs, "runner", true),
	})
	cfg := config.RunConfiguration{WorkDir: f.dir, APIKey: "secret-key", EnvPolicy: config.EnvPolicyPrefix}
	trigger := inputs.Trigger{Repository: "octo/repo", Owner: "octo", RunID: "42", EventName: "push"}

	result, err := engine.Run(context.Background(), cfg, trigger)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome.Kind != executor.KindSuccess {
		t.Fatalf("unexpected outcome %+v", result.Outcome)
	}
	want := []string{
		"configure --api_key secret-key --project_id octo",
		"run --confirm --upload --dockerless",
	}
	if got := f.calls(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected cli calls: %q", got)
	}
	if strings.Contains(logs.String(), "secret-key") {
		t.Fatal("api key leaked into logs")
	}
}

func TestRunConfigureFailureSkipsRun(t *testing.T) {
	f := newFixture(t)
	engine := New(Options{
		CLI:     f.cli,
		GitDir:  f.gitDir,
		Environ: append(f.environ("0"), "CONFIGURE_EXIT=3"),
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
		Logger:  observability.Discard(),
	})
	result, err := engine.Run(context.Background(), config.RunConfiguration{WorkDir: f.dir, APIKey: "k"}, pushTrigger)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome.Kind != executor.KindHardFailure || result.Outcome.Code != 3 {
		t.Fatalf("expected configure failure, got %+v", result.Outcome)
	}
	if got := f.calls(t); len(got) != 1 || !strings.HasPrefix(got[0], "configure ") {
		t.Fatalf("run must not start after configure fails, calls %q", got)
	}
}

func TestPrepareNeverForwardsAmbientRunScopedNames(t *testing.T) {
	f := newFixture(t)
	engine := New(Options{
		CLI:     f.cli,
		GitDir:  f.gitDir,
		Environ: []string{"DOCKER_USERNAME=old", "DOCKER_PASSWORD=old", "TREEBEARD_REF=x", "MY_VAR=1"},
		Logger:  observability.Discard(),
	})
	cfg := config.RunConfiguration{
		WorkDir:     f.dir,
		NotebookEnv: "DOCKER_PASSWORD=declared",
		Docker:      config.Docker{Username: "u", Password: "p"},
	}

	prepared, err := engine.Prepare(context.Background(), cfg, pushTrigger)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !reflect.DeepEqual(prepared.Forward, []string{"MY_VAR"}) {
		t.Fatalf("unexpected forward list %v", prepared.Forward)
	}
	line := prepared.Plan.CommandLine()
	for _, name := range []string{docker.EnvUsername, docker.EnvPassword, EnvReference} {
		if strings.Contains(line, name) {
			t.Fatalf("%s echoed on command line %q", name, line)
		}
	}
	if got, _ := prepared.Plan.Env.Get(docker.EnvPassword); got != "p" {
		t.Fatalf("expected resolved password in env, got %q", got)
	}
	if prepared.Configure != nil {
		t.Fatal("no configure step without an api key")
	}
}
