// Package secrets assembles login credentials from a YAML secrets file and
// PAGEFLOW_* environment variables.
//
// A secrets file holds default fields and optional per-profile entries:
//
//	username: alice@contoso.com
//	password: hunter2
//	mfa_secret: JBSWY3DPEHPK3PXP
//	profiles:
//	  crm-prod:
//	    username: svc-crm@contoso.com
//
// Resolution order for each field is environment, then the profile entry,
// then the defaults. The file must not be readable by group or others.
package secrets

import (
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"

	"github.com/pageflow/pageflow/pkg/auth"
	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/otp"
)

// Environment variables consulted by Provider.
const (
	EnvUsername  = "PAGEFLOW_USERNAME"
	EnvPassword  = "PAGEFLOW_PASSWORD"
	EnvMFASecret = "PAGEFLOW_MFA_SECRET"
)

type entry struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	MFASecret string `yaml:"mfa_secret"`
}

type file struct {
	Defaults entry            `yaml:",inline"`
	Profiles map[string]entry `yaml:"profiles"`
}

// Provider resolves a Credential for one profile.
type Provider struct {
	// Path is the secrets file. Empty means environment only.
	Path string

	// Profile selects an entry under "profiles".
	Profile string

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Credential builds the credential. Fields may be absent; the login flow
// decides which ones it needs. A malformed MFA secret is rejected here so
// the failure surfaces before a browser is started.
func (p Provider) Credential() (*auth.Credential, error) {
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	var resolved entry
	if p.Path != "" {
		f, err := readFile(p.Path)
		if err != nil {
			return nil, err
		}
		resolved = f.Defaults
		if p.Profile != "" {
			if e, ok := f.Profiles[p.Profile]; ok {
				resolved = overlay(resolved, e)
			}
		}
	}

	resolved = overlay(resolved, entry{
		Username:  getenv(EnvUsername),
		Password:  getenv(EnvPassword),
		MFASecret: getenv(EnvMFASecret),
	})

	if resolved.MFASecret != "" {
		if err := otp.ValidateSecret(resolved.MFASecret); err != nil {
			return nil, err
		}
	}
	if resolved.Password != "" && resolved.Username == "" {
		return nil, engine.NewConfigurationError("a password is configured without a username", nil).
			WithCode(engine.ErrCodeMissingSecret)
	}

	return auth.NewCredentialFromStrings(resolved.Username, resolved.Password, resolved.MFASecret), nil
}

func overlay(base, top entry) entry {
	if top.Username != "" {
		base.Username = top.Username
	}
	if top.Password != "" {
		base.Password = top.Password
	}
	if top.MFASecret != "" {
		base.MFASecret = top.MFASecret
	}
	return base
}

func readFile(path string) (*file, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to stat secrets file %s", path), err)
	}
	if err := checkPermissions(info); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read secrets file %s", path), err)
	}
	return decodeFile(path, data)
}

// decodeFile parses a secrets file and wipes data.
func decodeFile(path string, data []byte) (*file, error) {
	defer memguard.WipeBytes(data)

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		// yaml errors quote offending lines; keep them out of the message.
		return nil, engine.NewConfigurationError(fmt.Sprintf("secrets file %s is not valid YAML", path), nil)
	}
	return &f, nil
}

func checkPermissions(info fs.FileInfo) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if info.Mode().Perm()&0o077 != 0 {
		return engine.NewConfigurationError(
			fmt.Sprintf("secrets file %s is accessible by other users (mode %04o); run chmod 600", info.Name(), info.Mode().Perm()), nil)
	}
	return nil
}
