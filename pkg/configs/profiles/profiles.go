package profiles

import (
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/hectane/go-acl"
	"github.com/opst/taskmon/pkg/configs/open"
	yaml "gopkg.in/yaml.v3"
)

var ErrProfileStoreNotFound = errors.New("profile store is not found")
var ErrCannotCreateConfig = errors.New("cannot create profile store")
var ErrCannotUpdateConfig = errors.New("cannot update profile store")
var ErrProfileInvalid = errors.New("profile is invalid")

// ProfileStore is a map from profile name to Profile.
type ProfileStore map[string]*Profile

type Cert struct {
	// base64 encoded CA certificate (PEM)
	CA string `yaml:"ca,omitempty"`
}

// Profile tells where the orchestration service is, and how to talk to it.
type Profile struct {
	// endpoint of the orchestration service (or its gateway).
	ApiRoot string `yaml:"apiRoot"`

	Cert Cert `yaml:"cert,omitempty"`

	// bearer token sent as Authorization header. optional.
	Token string `yaml:"token,omitempty"`

	// application used when a command is not given --application.
	Application string `yaml:"application,omitempty"`
}

func verifyUrl(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs()
}

func verifyPEM(b64cert string) bool {
	bin, err := base64.StdEncoding.DecodeString(b64cert)
	if err != nil {
		return false
	}
	blk, _ := pem.Decode(bin)
	return blk != nil
}

// Verify Profile
//
// # Return
//
// nil if it is valid. Otherwise, ErrProfileInvalid error.
func (p *Profile) Verify() error {
	if !verifyUrl(p.ApiRoot) {
		return fmt.Errorf("%w: apiRoot is not URL: %s", ErrProfileInvalid, p.ApiRoot)
	}
	if p.Cert.CA != "" && !verifyPEM(p.Cert.CA) {
		return fmt.Errorf("%w: cert.ca is not PEM", ErrProfileInvalid)
	}

	return nil
}

// LoadProfileStore reads the profile store at path.
//
// # Returns
//
// - error: ErrProfileStoreNotFound when there is no file at path.
func LoadProfileStore(path string) (ProfileStore, error) {
	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s: %w", ErrProfileStoreNotFound, path, err)
	} else if err != nil {
		return nil, err
	}
	return Unmarshal(buf)
}

// LoadProfile reads a single Profile, like one handed by an admin, and verifies it.
func LoadProfile(path string) (*Profile, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := new(Profile)
	if err := yaml.Unmarshal(buf, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProfileInvalid, path, err)
	}
	if err := p.Verify(); err != nil {
		return nil, err
	}
	return p, nil
}

// Unmarshal parses a profile store in YAML.
func Unmarshal(buf []byte) (ProfileStore, error) {
	store := ProfileStore{}
	if err := yaml.Unmarshal(buf, &store); err != nil {
		return nil, err
	}
	return store, nil
}

// Save writes the profile store to path, readable and writable only by the current user.
//
// The store is written to a sibling file first, and then renamed to path.
// So, path holds the previous content or the new one, never a part of them.
func (ps ProfileStore) Save(path string) error {
	buf, err := yaml.Marshal(ps)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), os.FileMode(0700)); err != nil {
		return fmt.Errorf("%w: %w", ErrCannotCreateConfig, err)
	}

	saving := path + ".saving"
	f, err := open.NewSafeFile(saving)
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w, because no permission to write file at %s", ErrCannotUpdateConfig, filepath.Dir(path))
	} else if err != nil {
		return fmt.Errorf("%w: %w", ErrCannotCreateConfig, err)
	}
	defer os.Remove(saving) // left only when failed.

	if _, err := f.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(saving, path); err != nil {
		return fmt.Errorf("%w: %w", ErrCannotUpdateConfig, err)
	}

	// the permission of the renamed file may be loosened by ACL inheritance on windows.
	return acl.Chmod(path, os.FileMode(0600))
}
