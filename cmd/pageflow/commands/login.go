package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pageflow/pageflow/pkg/auth"
	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/secrets"
)

func newLoginCommand(version string) *cobra.Command {
	var (
		secretsPath string
		targetURL   string
		keepOpen    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the profile's target application",
		Long: `Sign in to the profile's target application in a browser.

Credentials come from the secrets file and the PAGEFLOW_USERNAME,
PAGEFLOW_PASSWORD and PAGEFLOW_MFA_SECRET environment variables. They are
held in locked memory and destroyed when the login finishes.

Exit status is 0 on success or redirect, 2 for configuration problems and
3 when the identity provider rejected the login.`,
		Example: `  # Sign in with credentials from the environment
  pageflow login --config crm.cue

  # Use a secrets file and override the target
  pageflow login -c crm.cue --secrets ~/.pageflow/secrets.yaml \
    --target https://contoso.crm.dynamics.com/main.aspx?appid=1

  # Machine-readable result
  pageflow login -c crm.cue --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfig(); err != nil {
				return err
			}
			ctx := cmd.Context()

			profile, err := loadProfile(ctx, configPath)
			if err != nil {
				return err
			}
			if targetURL != "" {
				profile.Target = targetURL
			}

			cred, err := secrets.Provider{Path: secretsPath, Profile: profile.Name}.Credential()
			if err != nil {
				return err
			}
			defer cred.Destroy()

			s, err := openSession(ctx, profile, version)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			log.Info().
				Str("profile", profile.Name).
				Str("host", s.target.Hostname()).
				Bool("redirect", s.redirect != nil).
				Msg("Starting login")

			result, err := s.flow.Login(ctx, s.target, cred, s.loginOptions()...)
			if printErr := printResult(cmd, result); printErr != nil {
				return printErr
			}
			if err != nil {
				s.recordError(err)
				return err
			}
			if result.Outcome == auth.Failure {
				return fmt.Errorf("%w: %s", errLoginFailed, result.Reason)
			}

			if keepOpen > 0 {
				log.Info().Dur("keep_open", keepOpen).Msg("Holding browser session")
				if err := engine.Sleep(ctx, keepOpen); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&secretsPath, "secrets", "", "YAML secrets file (mode 0600)")
	cmd.Flags().StringVar(&targetURL, "target", "", "override the profile's target URL")
	cmd.Flags().DurationVar(&keepOpen, "keep-open", 0, "keep the browser open this long after signing in")

	return cmd
}

func printResult(cmd *cobra.Command, r auth.Result) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, r)
	}
	_, err := fmt.Fprintf(out, "outcome: %s\nstate: %s\nattempt: %s\notc attempts: %d\nduration: %s\n",
		r.Outcome, r.State, r.AttemptID, r.OTCAttempts, r.Duration.Round(time.Millisecond))
	if err == nil && r.Reason != "" {
		_, err = fmt.Fprintf(out, "reason: %s\n", r.Reason)
	}
	return err
}
