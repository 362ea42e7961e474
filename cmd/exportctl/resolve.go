package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/noah-isme/estate-erp-api/internal/bootstrap"
	"github.com/noah-isme/estate-erp-api/internal/filter"
)

type resolveOptions struct {
	payload     string
	perm        filter.PermissionContext
	asJSON      bool
	permissions []string
	properties  []string
}

func newResolveCmd() *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve <entity>",
		Short: "Show the predicate a caller's filter payload resolves to",
		Long: `Resolve a filter payload for a given identity without touching the database.
The payload is inline JSON, or @path to read it from a file.`,
		Example: `  exportctl resolve leads --user agent-1 --role AGENT --payload '{"status":["open"],"date":{"preset":"last_7_days"}}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.OutOrStdout(), args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.payload, "payload", "{}", "filter payload JSON or @file")
	f.StringVar(&opts.perm.UserID, "user", "", "user id to resolve as")
	f.StringVar(&opts.perm.RoleName, "role", "", "role name, e.g. AGENT or ADMIN")
	f.StringSliceVar(&opts.permissions, "permission", nil, "granted permission (repeatable)")
	f.StringVar(&opts.perm.CompanyID, "company", "", "company id")
	f.StringVar(&opts.perm.DepartmentID, "department", "", "department id")
	f.StringSliceVar(&opts.properties, "property", nil, "accessible property id (repeatable)")
	f.BoolVar(&opts.asJSON, "json", false, "print the raw result as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runResolve(out io.Writer, entity string, opts *resolveOptions) error {
	raw, err := readPayload(opts.payload)
	if err != nil {
		return err
	}
	payload, err := filter.Decode(raw)
	if err != nil {
		return err
	}

	entities, err := bootstrap.SchemaRegistry()
	if err != nil {
		return err
	}
	entry, err := entities.Lookup(entity)
	if err != nil {
		return err
	}
	if err := filter.Validate(&entry.Filter, payload, cfg.Exports.MaxPageSize); err != nil {
		return err
	}

	perm := opts.perm
	perm.Permissions = opts.permissions
	perm.PropertyIDs = opts.properties
	result := filter.NewResolver(nil).Resolve(&entry.Filter, payload, perm, bootstrap.SystemConstraints(cfg.Filters))

	if opts.asJSON {
		data, err := jsoniter.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "entity: %s  scope: %s  sort: %s %s\n", entry.Name, colorInfo(result.ScopeLabel), result.Sort.Field, strings.ToLower(sortDirection(result.Sort)))
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Layer", "Source", "Conditions", "Dropped"})
	table.SetAutoWrapText(false)
	for _, t := range result.Trace {
		table.Append([]string{string(t.Layer), t.Source, strings.Join(t.Conditions, "\n"), strings.Join(t.Dropped, "\n")})
	}
	table.Render()
	return nil
}

func readPayload(arg string) ([]byte, error) {
	if strings.HasPrefix(arg, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	}
	return []byte(arg), nil
}

func sortDirection(s filter.Sort) string {
	if s.Desc() {
		return filter.SortDesc
	}
	return filter.SortAsc
}
