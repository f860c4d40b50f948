package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/contentkit/modrun/pkg/engine"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}

// plain converts exported script values into JSON-encodable data. Functions
// become "[function]".
func plain(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}
	if reflect.TypeOf(v).Kind() == reflect.Func {
		return "[function]"
	}
	return v
}

// summarize renders a short description of an exported value.
func summarize(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 5 {
			keys = append(keys[:5], "…")
		}
		return "{" + strings.Join(keys, ", ") + "}"
	case []interface{}:
		return fmt.Sprintf("[%d items]", len(x))
	}
	return fmt.Sprint(plain(v))
}

// errorClass names the class of a classified error for output.
func errorClass(err error) string {
	if e, ok := engine.Innermost(err); ok {
		return string(e.Class)
	}
	return "error"
}
