package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pageflow/pageflow/pkg/engine"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Exit codes reported by the pageflow binary.
const (
	exitFailure       = 1
	exitConfiguration = 2
	exitAuthFailed    = 3
)

// errLoginFailed marks a login that ran to completion with a Failure outcome.
var errLoginFailed = errors.New("login failed")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error returned by Execute to a process exit code.
// Configuration problems get their own code because retrying cannot help.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case engine.IsConfiguration(err):
		return exitConfiguration
	case errors.Is(err, errLoginFailed), engine.IsAuthenticationFailure(err):
		return exitAuthFailed
	default:
		return exitFailure
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pageflow",
		Short: "pageflow - unattended sign-in for browser-based business applications",
		Long: `pageflow drives a browser through a Microsoft-style sign-in sequence
(username, password or delegated SSO, one-time code, "stay signed in") and
waits until the application is ready for work.

Features:
  - Poll-until-condition waits and retry-with-verification for flaky inputs
  - Transaction barrier on the application's busy indicator
  - RFC 6238 one-time codes from a stored MFA secret
  - Profiles in CUE, host policies in Rego, SSO redirect scripts in Starlark
  - Audit log of login attempts in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "profile file or directory (CUE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newLoginCommand(version))
	rootCmd.AddCommand(newTOTPCommand())
	rootCmd.AddCommand(newAttemptsCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireConfig() error {
	if configPath == "" {
		return engine.NewConfigurationError("--config is required", nil).
			WithCode(engine.ErrCodeInvalidConfig)
	}
	return nil
}
