package docker

import (
	"errors"
	"reflect"
	"testing"

	"github.com/izavyalov-dev/treebeard-action/internal/config"
	"github.com/izavyalov-dev/treebeard-action/internal/environ"
	"github.com/izavyalov-dev/treebeard-action/internal/observability"
)

func TestResolveUsernameWithoutPasswordOutsidePullRequest(t *testing.T) {
	_, staged, err := Resolve(config.Docker{Username: "u"}, false, observability.Discard())
	if !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if staged {
		t.Fatal("nothing must be staged on error")
	}
}

func TestResolveUsernameWithoutPasswordOnPullRequestSkips(t *testing.T) {
	bundle, staged, err := Resolve(config.Docker{Username: "u", RegistryPrefix: "gcr.io/x"}, true, observability.Discard())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if staged || len(bundle.Entries()) != 0 {
		t.Fatalf("expected credential setup to be skipped, got %+v", bundle)
	}
}

func TestResolvePopulatesOnlySuppliedFields(t *testing.T) {
	bundle, staged, err := Resolve(config.Docker{Username: "u", Password: "p", ImageName: "img"}, false, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !staged {
		t.Fatal("expected bundle to be staged")
	}
	want := []environ.Entry{
		{Name: EnvUsername, Value: "u"},
		{Name: EnvPassword, Value: "p"},
		{Name: EnvImageName, Value: "img"},
	}
	if !reflect.DeepEqual(bundle.Entries(), want) {
		t.Fatalf("unexpected entries: %v", bundle.Entries())
	}
}

func TestResolveNothingSupplied(t *testing.T) {
	_, staged, err := Resolve(config.Docker{}, false, nil)
	if err != nil || staged {
		t.Fatalf("expected no-op, got staged=%v err=%v", staged, err)
	}
}

func TestResolvePasswordOnlyIsAccepted(t *testing.T) {
	bundle, staged, err := Resolve(config.Docker{Password: "p"}, false, nil)
	if err != nil || !staged {
		t.Fatalf("expected password-only bundle, got staged=%v err=%v", staged, err)
	}
	if bundle.Password != "p" || bundle.Username != "" {
		t.Fatalf("unexpected bundle %+v", bundle)
	}
}
