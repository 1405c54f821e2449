package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/izavyalov-dev/treebeard-action/internal/config"
	"github.com/izavyalov-dev/treebeard-action/internal/environ"
)

// DefaultCLI is the executable name of the notebook runner.
const DefaultCLI = "treebeard"

// Flags understood by `treebeard run`.
const (
	FlagConfirm     = "--confirm"
	FlagUpload      = "--upload"
	FlagEnv         = "--env"
	FlagNotebooks   = "--notebooks"
	FlagDockerless  = "--dockerless"
	FlagDebug       = "--debug"
	FlagReqFilePath = "--req-file-path"
)

// Flags understood by `treebeard configure`.
const (
	FlagAPIKey    = "--api_key"
	FlagProjectID = "--project_id"
)

// Plan is a fully assembled child process invocation. It is built once and
// not modified afterwards.
type Plan struct {
	Path      string
	Args      []string
	Env       *environ.Set
	Dir       string
	Reference string
	// Secrets are argument values masked in CommandLine.
	Secrets []string
}

// Argv returns the executable followed by its arguments.
func (p Plan) Argv() []string {
	out := make([]string, 0, len(p.Args)+1)
	out = append(out, p.Path)
	return append(out, p.Args...)
}

// CommandLine renders the plan for display, quoting every argument that is
// not shell-inert and masking secret arguments.
func (p Plan) CommandLine() string {
	argv := p.Argv()
	if len(p.Secrets) == 0 {
		return Join(argv)
	}
	parts := make([]string, len(argv))
	for i, arg := range argv {
		if p.secret(arg) {
			parts[i] = masked
			continue
		}
		parts[i] = QuoteIfNeeded(arg)
	}
	return strings.Join(parts, " ")
}

const masked = "***"

func (p Plan) secret(arg string) bool {
	for _, s := range p.Secrets {
		if s != "" && arg == s {
			return true
		}
	}
	return false
}

// Input collects what the builder needs besides the configuration.
type Input struct {
	CLI       string
	Config    config.RunConfiguration
	Reference string
	Forward   []string
	Env       *environ.Set
}

// Build assembles `treebeard run`. Output depends only on the input, so two
// builds from the same input produce identical argument lists.
func Build(in Input) Plan {
	cfg := in.Config
	cli := in.CLI
	if cli == "" {
		cli = DefaultCLI
	}

	args := []string{"run", FlagConfirm}
	if cfg.Upload() {
		args = append(args, FlagUpload)
	}
	for _, name := range in.Forward {
		args = append(args, FlagEnv, name)
	}
	// Patterns go through as discrete arguments; the CLI does its own globbing.
	for _, pattern := range cfg.Notebooks {
		args = append(args, FlagNotebooks, pattern)
	}
	if !cfg.UseDocker {
		args = append(args, FlagDockerless)
	}
	if cfg.Debug {
		args = append(args, FlagDebug)
	}
	if cfg.ReqFilePath != "" {
		args = append(args, FlagReqFilePath, cfg.ReqFilePath)
	}

	return Plan{
		Path:      cli,
		Args:      args,
		Env:       in.Env,
		Dir:       cfg.WorkDir,
		Reference: in.Reference,
	}
}

// BuildConfigure returns `treebeard configure`, which stores the API key
// where `treebeard run --upload` reads it.
func BuildConfigure(cli, apiKey, projectID string, env *environ.Set) Plan {
	if cli == "" {
		cli = DefaultCLI
	}
	args := []string{"configure", FlagAPIKey, apiKey}
	if projectID != "" {
		args = append(args, FlagProjectID, projectID)
	}
	return Plan{
		Path:    cli,
		Args:    args,
		Env:     env,
		Secrets: []string{apiKey},
	}
}

// PackageRepository is the source the CLI is installed from.
const PackageRepository = "https://github.com/treebeardtech/treebeard.git"

var refPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// BuildInstall returns a pip invocation pinning the CLI to ref.
func BuildInstall(python, ref string, env *environ.Set) (Plan, error) {
	if !refPattern.MatchString(ref) {
		return Plan{}, fmt.Errorf("%w: reference %q cannot be used as a pip revision", config.ErrConfiguration, ref)
	}
	if python == "" {
		python = "python3"
	}
	requirement := fmt.Sprintf("git+%s@%s#subdirectory=treebeard-lib", PackageRepository, ref)
	return Plan{
		Path:      python,
		Args:      []string{"-m", "pip", "install", requirement},
		Env:       env,
		Reference: ref,
	}, nil
}
