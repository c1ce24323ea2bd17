// ABOUTME: Record commands: get, set, rm, list, find, clear and collections
// ABOUTME: Each command opens the configured backend, acts on one collection and closes it

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/coven-store/internal/store"
)

func newCollectionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List known collections and their record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := a.openBackend(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			counts := make(map[string]int, len(store.KnownCollections))
			for _, name := range store.KnownCollections {
				coll, err := backend.Collection(ctx, name)
				if err != nil {
					return fmt.Errorf("opening collection %q: %w", name, err)
				}
				n, err := coll.Count(ctx)
				if err != nil {
					return fmt.Errorf("counting %q: %w", name, err)
				}
				counts[name] = n
			}

			if a.jsonMode {
				return writeJSON(cmd.OutOrStdout(), counts)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "COLLECTION\tENTITY\tRECORDS\n")
			for _, name := range store.KnownCollections {
				fmt.Fprintf(w, "%s\t%s\t%d\n", name, store.SchemaFor(name).Entity, counts[name])
			}
			w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "\nBackend: %s\n", backend.Kind())
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withCollection(ctx, args[0], func(coll store.Collection) error {
				rec, err := coll.GetItem(ctx, args[1])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("record %q not found in %s", args[1], args[0])
				}
				if a.jsonMode {
					return writeJSON(cmd.OutOrStdout(), flatten(rec))
				}
				printRecord(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	var data string
	var fieldArgs []string

	cmd := &cobra.Command{
		Use:   "set <collection> [id]",
		Short: "Create or replace a record",
		Long: `Create or replace a record. Without an id a new one is generated.

Fields come from --data (a JSON object, or "-" to read it from stdin)
and from repeated --field name=value flags. Field values are parsed as
JSON when possible and kept as strings otherwise.

Examples:
  coven-store set channel --field name=general --field description="main room"
  coven-store set tools t1 --data '{"name":"search","enabled":true}'
  echo '{"name":"ops"}' | coven-store set channel c3 --data -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := readFields(cmd.InOrStdin(), data, fieldArgs)
			if err != nil {
				return err
			}
			id := ""
			if len(args) == 2 {
				id = args[1]
			}

			ctx := cmd.Context()
			return a.withCollection(ctx, args[0], func(coll store.Collection) error {
				saved, err := coll.SetItem(ctx, id, fields)
				if err != nil {
					return err
				}
				if a.jsonMode {
					return writeJSON(cmd.OutOrStdout(), map[string]string{store.IDField: saved})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", okColor.Sprint("saved"), args[0], saved)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", `record fields as a JSON object ("-" reads stdin)`)
	cmd.Flags().StringArrayVar(&fieldArgs, "field", nil, "set one field as name=value (repeatable)")
	return cmd
}

// readFields merges the --data object and --field assignments.
func readFields(stdin io.Reader, data string, assignments []string) (map[string]any, error) {
	fields := make(map[string]any)
	if data == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		data = string(raw)
	}
	if strings.TrimSpace(data) != "" {
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, fmt.Errorf("parsing --data: %w", err)
		}
		if fields == nil {
			fields = make(map[string]any)
		}
	}
	for _, s := range assignments {
		field, value, err := splitAssignment(s)
		if err != nil {
			return nil, err
		}
		fields[field] = parseValue(value)
	}
	return fields, nil
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <collection> <id>...",
		Short: "Remove records by id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withCollection(ctx, args[0], func(coll store.Collection) error {
				for _, id := range args[1:] {
					if err := coll.RemoveItem(ctx, id); err != nil {
						return err
					}
				}
				if !a.jsonMode {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %d id(s) from %s\n", okColor.Sprint("removed"), len(args)-1, args[0])
				}
				return nil
			})
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List every record in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withCollection(ctx, args[0], func(coll store.Collection) error {
				records, err := coll.ListItems(ctx)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), a.jsonMode, records)
			})
		},
	}
}

func newFindCmd(a *app) *cobra.Command {
	var eqArgs, inArgs []string

	cmd := &cobra.Command{
		Use:   "find <collection>",
		Short: "Find records by field equality or membership",
		Long: `Find records matching every given predicate.

--eq field=value keeps records whose field equals value.
--in field=v1,v2 keeps records whose field is one of the values.
Use "id" as the field to match record ids. Values are parsed as JSON
when possible, so --eq enabled=true matches a boolean.

Examples:
  coven-store find user_states --eq userId=u1 --eq channelId=c1
  coven-store find history --in channelId=c1,c2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(eqArgs) > 0 && len(inArgs) > 0 {
				return fmt.Errorf("use either --eq or --in, not both")
			}

			ctx := cmd.Context()
			return a.withCollection(ctx, args[0], func(coll store.Collection) error {
				var records []*store.Record
				var err error
				if len(inArgs) > 0 {
					query, perr := parseInQuery(inArgs)
					if perr != nil {
						return perr
					}
					records, err = coll.ListItemsByInQuery(ctx, query)
				} else {
					filter, perr := parseEqFilter(eqArgs)
					if perr != nil {
						return perr
					}
					records, err = coll.ListItemsByEqFilter(ctx, filter)
				}
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), a.jsonMode, records)
			})
		},
	}

	cmd.Flags().StringArrayVar(&eqArgs, "eq", nil, "field=value equality predicate (repeatable)")
	cmd.Flags().StringArrayVar(&inArgs, "in", nil, "field=v1,v2 membership predicate (repeatable)")
	return cmd
}

func parseEqFilter(args []string) (map[string]any, error) {
	filter := make(map[string]any, len(args))
	for _, s := range args {
		field, value, err := splitAssignment(s)
		if err != nil {
			return nil, err
		}
		filter[field] = parseValue(value)
	}
	return filter, nil
}

func parseInQuery(args []string) ([]store.InPredicate, error) {
	query := make([]store.InPredicate, 0, len(args))
	for _, s := range args {
		field, value, err := splitAssignment(s)
		if err != nil {
			return nil, err
		}
		values := []any{}
		if value != "" {
			for _, v := range strings.Split(value, ",") {
				values = append(values, parseValue(v))
			}
		}
		query = append(query, store.InPredicate{Field: field, Values: values})
	}
	return query, nil
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear <collection>",
		Short: "Delete every record in a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear %s without --yes", args[0])
			}
			ctx := cmd.Context()
			return a.withCollection(ctx, args[0], func(coll store.Collection) error {
				if err := coll.Clear(ctx); err != nil {
					return err
				}
				if !a.jsonMode {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okColor.Sprint("cleared"), args[0])
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting every record")
	return cmd
}
