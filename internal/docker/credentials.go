package docker

import (
	"fmt"
	"log/slog"

	"github.com/izavyalov-dev/treebeard-action/internal/config"
	"github.com/izavyalov-dev/treebeard-action/internal/environ"
)

// Variable names the CLI reads when building and pushing images.
const (
	EnvUsername       = "DOCKER_USERNAME"
	EnvPassword       = "DOCKER_PASSWORD"
	EnvRegistryPrefix = "DOCKER_REGISTRY_PREFIX"
	EnvImageName      = "TREEBEARD_IMAGE_NAME"
)

// Bundle holds the registry credentials staged for the child process.
// Empty fields were not supplied and are left out of the environment.
type Bundle struct {
	Username       string
	Password       string
	RegistryPrefix string
	ImageName      string
}

// Entries returns the non-empty fields as environment entries in a fixed order.
func (b Bundle) Entries() []environ.Entry {
	var out []environ.Entry
	for _, e := range []environ.Entry{
		{Name: EnvUsername, Value: b.Username},
		{Name: EnvPassword, Value: b.Password},
		{Name: EnvRegistryPrefix, Value: b.RegistryPrefix},
		{Name: EnvImageName, Value: b.ImageName},
	} {
		if e.Value != "" {
			out = append(out, e)
		}
	}
	return out
}

// Resolve validates the docker inputs. The boolean result is false when
// credential setup is skipped: a username without password on a pull request
// is what a fork sees when secrets are withheld, so it is not an error there.
func Resolve(creds config.Docker, pullRequest bool, logger *slog.Logger) (Bundle, bool, error) {
	if creds.Username != "" && creds.Password == "" {
		if pullRequest {
			if logger != nil {
				logger.Warn("docker username supplied without password on a pull request; skipping registry credentials",
					"event", "docker_credentials_skipped")
			}
			return Bundle{}, false, nil
		}
		return Bundle{}, false, fmt.Errorf("%w: docker username supplied without password, missing secret?", config.ErrConfiguration)
	}

	bundle := Bundle{
		Username:       creds.Username,
		Password:       creds.Password,
		RegistryPrefix: creds.RegistryPrefix,
		ImageName:      creds.ImageName,
	}
	return bundle, len(bundle.Entries()) > 0, nil
}
