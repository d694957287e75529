package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/schema"
)

func newItemTypesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "itemtypes",
		Short: "List the item types that accept massive actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := a.client.ListItemTypes(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range types {
				fmt.Fprintln(a.out, t)
			}
			return nil
		},
	}
}

func newActionsCmd(a *app) *cobra.Command {
	var deleted, single bool
	cmd := &cobra.Command{
		Use:   "actions <itemtype>",
		Short: "List the massive actions available for an item type",
		Long: `List the massive actions available for an item type, grouped by the
processor that implements them.

Examples:
  massactionctl actions Computer
  massactionctl actions Computer --deleted`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := a.client.ListActions(cmd.Context(), args[0], deleted, single)
			if errors.Is(err, massaction.ErrInvalidItemType) {
				return fmt.Errorf("invalid item type: %s", args[0])
			}
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Fprintln(a.out, "No actions available")
				return nil
			}
			printActions(a, actions)
			return nil
		},
	}
	cmd.Flags().BoolVar(&deleted, "deleted", false, "list actions for items in the trash")
	cmd.Flags().BoolVar(&single, "single", false, "list actions offered for a single item")
	return cmd
}

func printActions(a *app, actions []massaction.ActionDescriptor) {
	category := ""
	for _, act := range actions {
		if act.Category != category {
			if category != "" {
				fmt.Fprintln(a.out)
			}
			category = act.Category
			fmt.Fprintf(a.out, "%s:\n", category)
		}
		fmt.Fprintf(a.out, "  %-40s %s\n", act.Key, act.Label)
	}
}

func newSchemaCmd(a *app) *cobra.Command {
	var (
		ids    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "schema <itemtype> <action>",
		Short: "Show the parameters an action needs",
		Long: `Derive the parameter fields of an action from the form the host renders
for it. With --host set the form is fetched from the host directly,
otherwise the bridge derives it.

Examples:
  massactionctl schema Computer MassiveAction:update --ids 1,2
  massactionctl schema Computer MassiveAction:update --ids 1 --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idList := massaction.ParseIDs(ids)
			if len(idList) == 0 {
				return errors.New("--ids must name at least one item")
			}
			fields, err := a.fields(cmd.Context(), args[0], idList, args[1])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(fields)
			}
			printFields(a, fields)
			return nil
		},
	}
	cmd.Flags().StringVar(&ids, "ids", "", "item IDs, separated by commas, spaces or semicolons")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the schema as JSON")
	return cmd
}

// fields derives the parameter schema of an action, from the host's
// subform when a host URL is configured and through the bridge otherwise.
func (a *app) fields(ctx context.Context, itemType string, ids []int, actionKey string) ([]schema.Field, error) {
	if a.hostURL == "" {
		return a.client.Schema(ctx, itemType, ids, actionKey)
	}
	fragment, err := a.client.FetchSubform(ctx, itemType, ids, actionKey)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("fetched subform", "itemtype", itemType, "action", actionKey, "bytes", len(fragment))
	return schema.Extract(fragment)
}

func printFields(a *app, fields []schema.Field) {
	if len(fields) == 0 {
		fmt.Fprintln(a.out, "This action takes no parameters")
		return
	}
	fmt.Fprintf(a.out, "%-24s %-10s %-8s %-16s %s\n", "NAME", "TYPE", "REQUIRED", "DEFAULT", "LABEL")
	fmt.Fprintln(a.out, strings.Repeat("-", 72))
	for _, f := range fields {
		req := ""
		if f.Required {
			req = "yes"
		}
		fmt.Fprintf(a.out, "%-24s %-10s %-8s %-16s %s\n", f.Name, f.Type, req, f.Default.String(), f.Label)
		for _, o := range f.Options {
			mark := " "
			if o.Selected {
				mark = "*"
			}
			fmt.Fprintf(a.out, "    %s %-20s %s\n", mark, o.Value, o.Label)
		}
	}
}
