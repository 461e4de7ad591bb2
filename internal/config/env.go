package config

import (
	"fmt"
	"os"
	"regexp"

	"mcpgate/internal/gwerrors"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv resolves ${NAME} references in value from the process
// environment. A reference to an unset variable is a configuration error;
// backend identifies the owner for the error message.
func ExpandEnv(backend, field, value string) (string, error) {
	var missing string
	expanded := envRefPattern.ReplaceAllStringFunc(value, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		resolved, ok := os.LookupEnv(name)
		if !ok {
			if missing == "" {
				missing = name
			}
			return ref
		}
		return resolved
	})
	if missing != "" {
		return "", &gwerrors.ConfigError{
			Backend: backend,
			Field:   field,
			Reason:  fmt.Sprintf("environment variable %q is not set", missing),
		}
	}
	return expanded, nil
}

// ExpandEnvMap resolves ${NAME} references in every value of m, returning a
// new map. Keys are not substituted.
func ExpandEnvMap(backend, field string, m map[string]string) (map[string]string, error) {
	if len(m) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		expanded, err := ExpandEnv(backend, fmt.Sprintf("%s.%s", field, k), v)
		if err != nil {
			return nil, err
		}
		out[k] = expanded
	}
	return out, nil
}
