package init

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	"github.com/opst/taskmon/pkg/configs/profiles"
	"github.com/youta-t/flarc"
)

const ARG_PROFILE_FILE = "PROFILE_FILE"

type Option struct {
	workdir string
}

// WithWorkdir sets the directory where .taskmonprofile is written. Default: "."
func WithWorkdir(dir string) func(*Option) *Option {
	return func(o *Option) *Option {
		o.workdir = dir
		return o
	}
}

func New(options ...func(*Option) *Option) (flarc.Command, error) {
	option := &Option{workdir: "."}
	for _, opt := range options {
		option = opt(option)
	}

	return flarc.NewCommand(
		"Register a profile, and use it in this directory.",
		struct{}{},
		flarc.Args{
			{
				Name: ARG_PROFILE_FILE, Required: true,
				Help: "filepath to a profile file, which tells where the orchestration service is.",
			},
		},
		common.NewTaskWithCommonFlag(Task(option.workdir)),
		flarc.WithDescription(`
Register the profile into your profile store, and use it in this directory.

The profile file is a YAML like:

    apiRoot: https://orca.example.com/api
    token: (optional bearer token)
    application: (optional default application)

The name of the profile is given by "--profile" (default: current directory path).
`),
	)
}

func Task(workdir string) common.TaskWithCommonFlag[struct{}] {
	return func(
		ctx context.Context,
		logger *log.Logger,
		cf common.CommonFlags,
		cl flarc.Commandline[struct{}],
		params []any,
	) error {
		profFile := cl.Args()[ARG_PROFILE_FILE][0]

		store, err := profiles.LoadProfileStore(cf.ProfileStore)
		if errors.Is(err, profiles.ErrProfileStoreNotFound) {
			store = profiles.ProfileStore{}
		} else if err != nil {
			logger.Printf("failed to load profile store (%s): %s", cf.ProfileStore, err)
			return err
		}

		prof, err := profiles.LoadProfile(profFile)
		if err != nil {
			logger.Printf("failed to read profile file (%s): %s", profFile, err)
			return err
		}

		store[cf.Profile] = prof
		if err := store.Save(cf.ProfileStore); err != nil {
			logger.Printf("failed to save profile store (%s): %s", cf.ProfileStore, err)
			return err
		}
		logger.Printf("profile %s is saved to %s", cf.Profile, cf.ProfileStore)

		dest := filepath.Join(workdir, common.ProfileFileName)
		if err := os.WriteFile(dest, []byte(cf.Profile+"\n"), os.FileMode(0600)); err != nil {
			logger.Printf("failed to write %s: %s", dest, err)
			return err
		}
		return nil
	}
}
