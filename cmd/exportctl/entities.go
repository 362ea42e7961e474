package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/noah-isme/estate-erp-api/internal/bootstrap"
	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/registry"
)

func newEntitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List registered entities and their filter capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			entities, err := bootstrap.SchemaRegistry()
			if err != nil {
				return err
			}
			return printEntities(cmd.OutOrStdout(), entities)
		},
	}
}

func printEntities(out io.Writer, entities *registry.Registry) error {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Entity", "Table", "Scope", "Date Fields", "Relations", "Columns"})
	table.SetAutoWrapText(false)
	for _, name := range entities.Names() {
		entry, err := entities.Lookup(name)
		if err != nil {
			return err
		}
		scope := filter.Unrestricted{}.Name()
		if entry.Filter.Scope != nil {
			scope = entry.Filter.Scope.Name()
		}
		table.Append([]string{
			entry.Name,
			entry.Table,
			scope,
			strings.Join(sortedKeys(entry.Filter.DateFields), ", "),
			strings.Join(sortedKeys(entry.Filter.RelationFields), ", "),
			fmt.Sprintf("%d", len(entry.Columns)),
		})
	}
	table.Render()
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
