package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pageflow/pageflow/pkg/config"
	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/redirect"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a CUE profile",
		Long: `Validate a CUE profile without starting a browser.

This command checks:
  - CUE syntax and conformance to the profile schema
  - Field constraints such as durations and URLs
  - That the redirect script, if any, compiles`,
		Example: `  # Validate the profile given with --config
  pageflow validate -c crm.cue

  # Validate a directory of profile fragments
  pageflow validate ./profiles/crm`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return requireConfig()
			}

			log.Debug().Str("path", path).Msg("Validating profile")

			loader, err := config.NewLoader()
			if err != nil {
				return err
			}
			lp, err := loader.Load(cmd.Context(), path)
			if err != nil {
				return err
			}

			if lp.Valid() && lp.Profile.Redirect.Script != "" {
				if _, err := redirect.Load(lp.Profile.Redirect.Script); err != nil {
					lp.Errors = append(lp.Errors, config.ValidationError{
						Path:    "profile.redirect.script",
						Message: err.Error(),
					})
				}
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), lp); err != nil {
					return err
				}
			} else {
				for _, e := range lp.Errors {
					fmt.Fprintln(cmd.OutOrStdout(), e.String())
				}
				if lp.Valid() {
					fmt.Fprintf(cmd.OutOrStdout(), "profile %s is valid (%d file(s))\n", lp.Profile.Name, len(lp.SourceFiles))
				}
			}

			if !lp.Valid() {
				return engine.NewConfigurationError(fmt.Sprintf("profile has %d error(s)", len(lp.Errors)), nil).
					WithCode(engine.ErrCodeInvalidConfig)
			}
			return nil
		},
	}

	return cmd
}
