package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/izavyalov-dev/treebeard-action/internal/inputs"
)

// ErrConfiguration marks invalid or missing inputs. Runs failing with it never
// reach the child process.
var ErrConfiguration = errors.New("configuration error")

// UsageLogging is the tri-state usage reporting preference.
type UsageLogging string

const (
	UsageLoggingAuto UsageLogging = "auto"
	UsageLoggingOn   UsageLogging = "on"
	UsageLoggingOff  UsageLogging = "off"
)

// ParseUsageLogging maps the raw input onto a preference. Absent means auto.
func ParseUsageLogging(raw string) (UsageLogging, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return UsageLoggingAuto, nil
	case "true", "on":
		return UsageLoggingOn, nil
	case "false", "off":
		return UsageLoggingOff, nil
	default:
		return "", fmt.Errorf("%w: usage-logging must be true, false or empty, got %q", ErrConfiguration, raw)
	}
}

// EnvPolicy selects how ambient variables are classified for forwarding.
type EnvPolicy string

const (
	EnvPolicyDenylist EnvPolicy = "denylist"
	EnvPolicyPrefix   EnvPolicy = "prefix"
)

// DefaultEnvPrefix marks variables forwarded under the prefix policy.
const DefaultEnvPrefix = "TB_"

// Docker holds the registry inputs as supplied; validation happens in the
// credential resolver because it depends on the trigger.
type Docker struct {
	Username       string
	Password       string
	RegistryPrefix string
	ImageName      string
}

// RunConfiguration is the validated snapshot of action inputs for one run.
type RunConfiguration struct {
	APIKey       string
	Notebooks    []string
	Docker       Docker
	UseDocker    bool
	Debug        bool
	WorkDir      string
	ReqFilePath  string
	NotebookEnv  string
	UsageLogging UsageLogging
	EnvPolicy    EnvPolicy
	EnvPrefix    string
	InstallCLI   bool
	Timeout      time.Duration
}

// Upload reports whether results should be uploaded, which requires an API key.
func (c RunConfiguration) Upload() bool {
	return c.APIKey != ""
}

// Load builds a RunConfiguration from the input source.
func Load(src inputs.Source) (RunConfiguration, error) {
	if src == nil {
		return RunConfiguration{}, fmt.Errorf("%w: no input source", ErrConfiguration)
	}

	usage, err := ParseUsageLogging(inputs.Get(src, "usage-logging", "open-usage-logging"))
	if err != nil {
		return RunConfiguration{}, err
	}

	policy := EnvPolicy(strings.ToLower(inputs.Get(src, "env-policy")))
	switch policy {
	case "":
		policy = EnvPolicyDenylist
	case EnvPolicyDenylist, EnvPolicyPrefix:
	default:
		return RunConfiguration{}, fmt.Errorf("%w: env-policy must be denylist or prefix, got %q", ErrConfiguration, policy)
	}
	prefix := inputs.Get(src, "env-prefix")
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	var timeout time.Duration
	if raw := inputs.Get(src, "timeout"); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil || timeout < 0 {
			return RunConfiguration{}, fmt.Errorf("%w: timeout %q is not a valid duration", ErrConfiguration, raw)
		}
	}

	workDir := inputs.Get(src, "path")
	if workDir == "" {
		workDir = "."
	}

	return RunConfiguration{
		APIKey:    inputs.Get(src, "api-key"),
		Notebooks: splitLines(inputs.Get(src, "notebooks")),
		Docker: Docker{
			Username:       inputs.Get(src, "docker-username"),
			Password:       inputs.Get(src, "docker-password"),
			RegistryPrefix: inputs.Get(src, "docker-registry-prefix", "docker-registry"),
			ImageName:      inputs.Get(src, "docker-image-name"),
		},
		UseDocker:    inputs.Bool(src, "use-docker"),
		Debug:        inputs.Bool(src, "debug"),
		WorkDir:      workDir,
		ReqFilePath:  inputs.Get(src, "req-file-path"),
		NotebookEnv:  inputs.Get(src, "notebook-env"),
		UsageLogging: usage,
		EnvPolicy:    policy,
		EnvPrefix:    prefix,
		InstallCLI:   inputs.Bool(src, "install-cli"),
		Timeout:      timeout,
	}, nil
}

func splitLines(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
