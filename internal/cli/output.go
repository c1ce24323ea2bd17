// ABOUTME: Output helpers for coven-store commands: colored text or raw JSON
// ABOUTME: Records are printed flattened, with the id alongside the fields

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-store/internal/store"
)

var (
	idColor    = color.New(color.FgCyan, color.Bold)
	keyColor   = color.New(color.FgHiBlack)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
)

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", errorColor.Sprint("Error:"), err)
}

// flatten returns the on-disk shape of a record: its fields plus "id".
func flatten(r *store.Record) map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[store.IDField] = r.ID
	return out
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// printRecords writes records as a JSON array or as one block per record.
func printRecords(w io.Writer, jsonMode bool, records []*store.Record) error {
	if jsonMode {
		items := make([]map[string]any, len(records))
		for i, r := range records {
			items[i] = flatten(r)
		}
		return writeJSON(w, items)
	}

	if len(records) == 0 {
		fmt.Fprintln(w, warnColor.Sprint("No records found"))
		return nil
	}
	for i, r := range records {
		if i > 0 {
			fmt.Fprintln(w)
		}
		printRecord(w, r)
	}
	fmt.Fprintf(w, "\nTotal: %d record(s)\n", len(records))
	return nil
}

func printRecord(w io.Writer, r *store.Record) {
	fmt.Fprintln(w, idColor.Sprint(r.ID))

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s %s\n", keyColor.Sprint(k+":"), formatValue(r.Fields[k]))
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// parseValue reads a command-line value as JSON, falling back to a plain string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// splitAssignment parses "field=value".
func splitAssignment(s string) (string, string, error) {
	field, value, ok := strings.Cut(s, "=")
	if !ok || field == "" {
		return "", "", fmt.Errorf("expected field=value, got %q", s)
	}
	return field, value, nil
}
