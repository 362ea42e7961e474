package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the Redis count cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "flush [entity]",
		Short: "Drop cached row counts, for one entity or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := connect()
			if err != nil {
				return err
			}
			defer comps.Close()
			if !comps.Counts.Enabled() {
				return fmt.Errorf("count cache is disabled (CACHE_ENABLED=false or redis unavailable)")
			}

			entity := ""
			if len(args) == 1 {
				entry, err := comps.Entities.Lookup(args[0])
				if err != nil {
					return err
				}
				entity = entry.Name
			}
			if err := comps.Counts.InvalidateCounts(cmd.Context(), entity); err != nil {
				return err
			}
			target := entity
			if target == "" {
				target = "all entities"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s cached counts for %s\n", colorOK("flushed"), target)
			return nil
		},
	})
	return cmd
}
