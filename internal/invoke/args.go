package invoke

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Flag converts a snake_case parameter name into its command line form,
// e.g. "minimum_hit_groups" -> "--minimum-hit-groups".
func Flag(name string) string {
	return "--" + strings.ReplaceAll(name, "_", "-")
}

// FormatParams converts a parameter map into an argument vector. Keys are
// emitted in sorted order so argv construction is deterministic. False
// booleans and empty strings are skipped; true booleans emit a bare flag;
// numeric values are always emitted, including zero; slices emit one
// flag-value pair per element.
func FormatParams(params map[string]any) ([]string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, key := range keys {
		formatted, err := formatParam(key, params[key])
		if err != nil {
			return nil, err
		}
		args = append(args, formatted...)
	}
	return args, nil
}

func formatParam(key string, value any) ([]string, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return []string{Flag(key)}, nil
		}
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{Flag(key), v}, nil
	case int:
		return []string{Flag(key), strconv.Itoa(v)}, nil
	case int64:
		return []string{Flag(key), strconv.FormatInt(v, 10)}, nil
	case float64:
		return []string{Flag(key), strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case []string:
		var args []string
		for _, item := range v {
			args = append(args, Flag(key), item)
		}
		return args, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T for %q", value, key)
	}
}
