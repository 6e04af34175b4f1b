package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/condition"
	"github.com/opensource-finance/harrier/internal/rulepack"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with rule packs",
	}
	cmd.AddCommand(newRulesValidateCmd())
	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML rule pack without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pack, err := rulepack.Load(args[0])
			if err != nil {
				return err
			}
			compiled, err := rulepack.Validate(pack)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(compiled)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rules OK\n", args[0], len(compiled))
			for _, r := range compiled {
				state := "active"
				if !r.Active {
					state = "inactive"
				}
				node, err := condition.Compile(r.Conditions)
				if err != nil {
					return fmt.Errorf("%s: rule %q: %w", args[0], r.Name, err)
				}
				facts := strings.Join(condition.FactNames(node), ",")
				fmt.Fprintf(out, "  %-4d %-8s %-6s %.2f  %s [%s]\n", r.Priority, state, r.Event.Type, r.Event.Params.Score, r.Name, facts)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the compiled rules as JSON")
	return cmd
}
