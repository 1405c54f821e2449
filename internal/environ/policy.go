package environ

import (
	"strings"

	"github.com/izavyalov-dev/treebeard-action/internal/config"
)

// Policy decides whether an ambient variable is disclosed to the child CLI.
type Policy interface {
	Forward(name string) bool
}

// DenylistPolicy forwards every variable not named in the denylist.
type DenylistPolicy struct {
	names map[string]struct{}
}

func NewDenylistPolicy(names []string) DenylistPolicy {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return DenylistPolicy{names: set}
}

func (p DenylistPolicy) Forward(name string) bool {
	_, denied := p.names[name]
	return !denied
}

// PrefixPolicy forwards only variables carrying the marker prefix.
type PrefixPolicy struct {
	Prefix string
}

func (p PrefixPolicy) Forward(name string) bool {
	return p.Prefix != "" && strings.HasPrefix(name, p.Prefix)
}

// PolicyFor returns the policy selected by configuration.
func PolicyFor(kind config.EnvPolicy, prefix string) Policy {
	if kind == config.EnvPolicyPrefix {
		return PrefixPolicy{Prefix: prefix}
	}
	return NewDenylistPolicy(DefaultDenylist)
}

// DefaultDenylist names runner and toolchain variables of hosted CI images
// plus the action's own inputs. None of them mean anything inside a notebook.
var DefaultDenylist = []string{
	"BOOST_ROOT_1_69_0",
	"RUNNER_TRACKING_ID",
	"JOURNAL_STREAM",
	"PIPX_HOME",
	"VCPKG_INSTALLATION_ROOT",
	"GOROOT",
	"PIPX_BIN_DIR",
	"CHROMEWEBDRIVER",
	"DOTNET_NOLOGO",
	"AGENT_TOOLSDIRECTORY",
	"JAVA_HOME",
	"GOROOT_1_13_X64",
	"RUNNER_TOOL_CACHE",
	"ANDROID_HOME",
	"INVOCATION_ID",
	"SWIFT_PATH",
	"ImageOS",
	"GOROOT_1_11_X64",
	"DEBIAN_FRONTEND",
	"GECKOWEBDRIVER",
	"GOROOT_1_14_X64",
	"HOMEBREW_REPOSITORY",
	"JAVA_HOME_11_X64",
	"GOROOT_1_12_X64",
	"PATH",
	"GOROOT_1_15_X64",
	"CONDA",
	"RUNNER_USER",
	"RUNNER_PERFLOG",
	"JAVA_HOME_7_X64",
	"LEIN_HOME",
	"ANT_HOME",
	"JAVA_HOME_8_X64",
	"ANDROID_SDK_ROOT",
	"DEPLOYMENT_BASEPATH",
	"AZURE_EXTENSION_DIR",
	"M2_HOME",
	"SELENIUM_JAR_PATH",
	"USER",
	"ImageVersion",
	"LEIN_JAR",
	"HOME",
	"DOTNET_SKIP_FIRST_TIME_EXPERIENCE",
	"GRADLE_HOME",
	"PERFLOG_LOCATION_SETTING",
	"BOOST_ROOT_1_72_0",
	"HOMEBREW_CELLAR",
	"LANG",
	"POWERSHELL_DISTRIBUTION_CHANNEL",
	"GITHUB_ACTIONS",
	"DOTNET_MULTILEVEL_LOOKUP",
	"HOMEBREW_PREFIX",
	"CHROME_BIN",
	"JAVA_HOME_12_X64",
	"pythonLocation",
	"LD_LIBRARY_PATH",
	"CLOUDSDK_METRICS_ENVIRONMENT",
	"GOOGLE_APPLICATION_CREDENTIALS",
	"INPUT_DOCKER-REGISTRY-PREFIX",
	"INPUT_DOCKER-REGISTRY",
	"INPUT_DEBUG",
	"INPUT_PATH",
	"INPUT_API-KEY",
	"INPUT_NOTEBOOKS",
	"INPUT_NOTEBOOK-ENV",
	"INPUT_DOCKER-USERNAME",
	"INPUT_DOCKER-PASSWORD",
	"INPUT_DOCKER-IMAGE-NAME",
	"INPUT_USE-DOCKER",
	"INPUT_REQ-FILE-PATH",
	"INPUT_USAGE-LOGGING",
	"INPUT_OPEN-USAGE-LOGGING",
	"INPUT_ENV-POLICY",
	"INPUT_ENV-PREFIX",
	"INPUT_INSTALL-CLI",
	"INPUT_TIMEOUT",
	"RUNNER_OS",
	"RUNNER_TEMP",
	"RUNNER_WORKSPACE",
	"ACTIONS_RUNTIME_URL",
	"ACTIONS_RUNTIME_TOKEN",
	"ACTIONS_CACHE_URL",
}
