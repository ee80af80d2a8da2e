package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cadbridge/cadbridge/pkg/policy"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List the mutation policies in effect",
		Long: `List the built-in policies plus any custom Rego policies from the
configured policy directory, with their severity and enabled state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			eng, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}

			if cfg.PolicyDir != "" {
				if err := eng.LoadPolicies(context.Background(), []string{cfg.PolicyDir}); err != nil {
					return err
				}
			}

			policies := eng.ListPolicies()
			sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

			if jsonOutput {
				out, _ := json.MarshalIndent(policies, "", "  ")
				fmt.Println(string(out))
				return nil
			}

			for _, p := range policies {
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				fmt.Printf("%-24s %-8s %-8s %s\n", p.Name, p.Severity, state, p.Description)
			}
			return nil
		},
	}

	return cmd
}
