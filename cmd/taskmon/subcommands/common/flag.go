package common

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/opst/taskmon/pkg/utils"
)

// name of files telling which profile to be used in the directory and its descendants.
const ProfileFileName = ".taskmonprofile"

type CommonFlags struct {
	Profile      string `flag:"profile" help:"profile name to use"`
	ProfileStore string `flag:"profile-store" help:"path to profile store file"`
	Journal      string `flag:"journal" metavar:"path/to/journal.db|postgres://..." help:"task journal. sqlite file path or PostgreSQL URL. empty to disable."`
}

type commonFlagDetection struct {
	home string
}

type CommonFlagDetectionOption func(*commonFlagDetection) *commonFlagDetection

func WithHome(home string) CommonFlagDetectionOption {
	return func(opt *commonFlagDetection) *commonFlagDetection {
		opt.home = home
		return opt
	}
}

// Flags detects default values of CommonFlags.
//
// The profile name is read from the nearest .taskmonprofile file in from or its ancestors.
// If there are no such files, the absolute path of from is the profile name.
//
// Profile store and journal are in ~/.taskmon .
func Flags(from string, opt ...CommonFlagDetectionOption) (CommonFlags, error) {
	detparam := commonFlagDetection{}
	for _, o := range opt {
		detparam = *o(&detparam)
	}

	home := detparam.home
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}

	if abs, err := filepath.Abs(from); err == nil {
		from = abs
	}

	profile := from
	if found, err := utils.SearchUpward(from, ProfileFileName); err == nil {
		content, err := os.ReadFile(found)
		if err != nil {
			return CommonFlags{}, err
		}
		if first, _, _ := strings.Cut(string(content), "\n"); strings.TrimSpace(first) != "" {
			profile = strings.TrimSpace(first)
		}
	}

	return CommonFlags{
		Profile:      profile,
		ProfileStore: path.Join(home, ".taskmon", "profile"),
		Journal:      path.Join(home, ".taskmon", "journal.db"),
	}, nil
}
