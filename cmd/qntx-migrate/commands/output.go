package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/teranos/qntx-migrate/am/geotime"
	"github.com/teranos/qntx-migrate/errors"
)

// parseIDs converts positional arguments to migration IDs
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.NewValidationError("invalid migration id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// printFormatted writes v in one of the structured formats
func printFormatted(format string, v interface{}) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		fmt.Print(string(data))
	case "toml":
		data, err := toml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal to TOML: %w", err)
		}
		fmt.Print(string(data))
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
	return nil
}

// localTime renders a UTC instant in the server timezone, or "-" when unset
func localTime(n *geotime.Normalizer, t *time.Time) string {
	if t == nil {
		return "-"
	}
	return n.Render(*t)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
