package init_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	taskmon_init "github.com/opst/taskmon/cmd/taskmon/subcommands/init"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/internal/commandline"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/logger"
	"github.com/opst/taskmon/pkg/configs/profiles"
	"github.com/opst/taskmon/pkg/utils/try"
)

func TestInit(t *testing.T) {
	run := func(t *testing.T, workdir string, cf common.CommonFlags, profFile string) error {
		return taskmon_init.Task(workdir)(
			context.Background(),
			logger.Null(),
			cf,
			commandline.MockCommandline[struct{}]{
				Fullname_: "taskmon init",
				Stdout_:   new(strings.Builder),
				Stderr_:   new(strings.Builder),
				Args_:     map[string][]string{taskmon_init.ARG_PROFILE_FILE: {profFile}},
			},
			[]any{},
		)
	}

	t.Run("it registers the profile and writes .taskmonprofile", func(t *testing.T) {
		dir := t.TempDir()
		profFile := filepath.Join(dir, "profile.yaml")
		if err := os.WriteFile(profFile, []byte("apiRoot: https://orca.example.com/api\napplication: app\n"), 0600); err != nil {
			t.Fatal(err)
		}
		cf := common.CommonFlags{Profile: "prod", ProfileStore: filepath.Join(dir, "home", "profile")}
		workdir := t.TempDir()

		if err := run(t, workdir, cf, profFile); err != nil {
			t.Fatal(err)
		}

		store := try.To(profiles.LoadProfileStore(cf.ProfileStore)).OrFatal(t)
		prof, ok := store["prod"]
		if !ok || prof.ApiRoot != "https://orca.example.com/api" || prof.Application != "app" {
			t.Errorf("unexpected store: %+v", store)
		}

		content := try.To(os.ReadFile(filepath.Join(workdir, common.ProfileFileName))).OrFatal(t)
		if strings.TrimSpace(string(content)) != "prod" {
			t.Errorf("unexpected %s: %q", common.ProfileFileName, content)
		}
	})

	t.Run("it keeps other profiles", func(t *testing.T) {
		dir := t.TempDir()
		storePath := filepath.Join(dir, "profile")
		if err := (profiles.ProfileStore{
			"other": {ApiRoot: "https://other.example.com"},
		}).Save(storePath); err != nil {
			t.Fatal(err)
		}
		profFile := filepath.Join(dir, "profile.yaml")
		if err := os.WriteFile(profFile, []byte("apiRoot: https://orca.example.com/api\n"), 0600); err != nil {
			t.Fatal(err)
		}

		if err := run(t, t.TempDir(), common.CommonFlags{Profile: "prod", ProfileStore: storePath}, profFile); err != nil {
			t.Fatal(err)
		}
		store := try.To(profiles.LoadProfileStore(storePath)).OrFatal(t)
		if _, ok := store["other"]; !ok {
			t.Errorf("other profile is lost: %+v", store)
		}
		if _, ok := store["prod"]; !ok {
			t.Errorf("new profile is not saved: %+v", store)
		}
	})

	t.Run("invalid profile is not registered", func(t *testing.T) {
		dir := t.TempDir()
		profFile := filepath.Join(dir, "profile.yaml")
		if err := os.WriteFile(profFile, []byte("apiRoot: not a url\n"), 0600); err != nil {
			t.Fatal(err)
		}
		storePath := filepath.Join(dir, "profile")
		if err := run(t, t.TempDir(), common.CommonFlags{Profile: "prod", ProfileStore: storePath}, profFile); err == nil {
			t.Error("it should fail")
		}
		if _, err := os.Stat(storePath); !os.IsNotExist(err) {
			t.Errorf("store is written: %v", err)
		}
	})
}
