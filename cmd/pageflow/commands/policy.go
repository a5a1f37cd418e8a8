package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect host policies",
	}
	cmd.AddCommand(newPolicyCheckCommand())
	cmd.AddCommand(newPolicyListCommand())
	return cmd
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		host    string
		paths   []string
		domains []string
		profile string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Decide whether a host needs interactive sign-in",
		Example: `  # Built-in allow-list from a profile
  pageflow policy check -c crm.cue --host contoso.crm.dynamics.com

  # Custom Rego policies
  pageflow policy check --host sts.contoso.com --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if host == "" {
				return engine.NewConfigurationError("--host is required", nil)
			}
			ctx := cmd.Context()

			if configPath != "" {
				p, err := loadProfile(ctx, configPath)
				if err != nil {
					return err
				}
				domains = append(domains, p.InteractiveDomains...)
				if len(paths) == 0 {
					paths = p.Policy.Paths
				}
				if profile == "" {
					profile = p.Name
				}
			}

			pe, err := newPolicyEngine(cmd, domains, paths)
			if err != nil {
				return err
			}

			d, err := pe.Decide(ctx, policy.HostInput{Host: host, Profile: profile})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), d)
			}

			verdict := "not interactive"
			if d.Interactive {
				verdict = "interactive"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (policies: %s)\n", d.Host, verdict, strings.Join(d.Policies, ", "))
			for _, r := range d.Reasons {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", r)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "host name to evaluate")
	cmd.Flags().StringSliceVar(&paths, "policy", nil, "Rego policy file or directory (repeatable)")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "interactive domain for the built-in policy (repeatable)")
	cmd.Flags().StringVar(&profile, "profile", "", "profile name passed to the policy input")

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active host policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pe, err := newPolicyEngine(cmd, nil, paths)
			if err != nil {
				return err
			}
			policies := pe.ListPolicies()
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), policies)
			}
			for _, p := range policies {
				src := p.Source
				if src == "" {
					src = "built-in"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p.Name, src, p.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&paths, "policy", nil, "Rego policy file or directory (repeatable)")
	return cmd
}

func newPolicyEngine(cmd *cobra.Command, domains, paths []string) (*policy.Engine, error) {
	pe, err := policy.NewEngine(log.Logger, domains)
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := pe.LoadPolicies(cmd.Context(), policy.NewLoader(log.Logger), paths); err != nil {
			return nil, engine.NewConfigurationError("failed to load host policies", err)
		}
	}
	return pe, nil
}
