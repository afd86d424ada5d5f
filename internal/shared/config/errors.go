package config

import (
	"sort"
	"strings"
)

// ConfigurationError reports required settings that are absent.
type ConfigurationError struct {
	Keys []string
}

func (e *ConfigurationError) Error() string {
	keys := append([]string(nil), e.Keys...)
	sort.Strings(keys)
	return "missing configuration: " + strings.Join(keys, ", ")
}
