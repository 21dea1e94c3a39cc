package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes converts a YAML config to JSON so both formats go through
// the same strict decoder. JSON input is passed through untouched.
//
// Returns (jsonBytes, format, err) where format is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	v, err := normalizeYAML("", v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("%s: encode: %w", filepath.Base(path), err)
	}
	return j, "yaml", nil
}

// normalizeYAML rewrites decoded YAML into JSON-compatible values. Config keys
// are field names, so a non-string key is reported at its field path instead
// of being stringified into an unknown-field error later.
func normalizeYAML(path string, in any) (any, error) {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%s: key %v is a %T, want a field name", fieldPath(path), k, k)
			}
			nv, err := normalizeYAML(joinPath(path, ks), v)
			if err != nil {
				return nil, err
			}
			m[ks] = nv
		}
		return m, nil
	case map[string]any:
		for k, v := range x {
			nv, err := normalizeYAML(joinPath(path, k), v)
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case []any:
		for i := range x {
			nv, err := normalizeYAML(path+"["+strconv.Itoa(i)+"]", x[i])
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	default:
		return in, nil
	}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func fieldPath(p string) string {
	if p == "" {
		return "top level"
	}
	return p
}
