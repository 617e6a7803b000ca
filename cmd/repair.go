package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair <namespace.json>",
		Short: "Run the normalization pass against one namespace record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := newAuditStack()
			if err != nil {
				return err
			}

			changes, err := stack.normalizer.Normalize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				fmt.Println("record already consistent, nothing to repair")
				return nil
			}

			out, err := json.MarshalIndent(changes, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	return cmd
}
