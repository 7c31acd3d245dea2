package config

import "os"

// ExpandEnv expands environment variables in raw YAML bytes before parsing,
// using Go's standard library. Supports both ${VAR} and $VAR syntax.
// Missing variables expand to empty string; validation catches required
// fields left empty by an unset variable.
func ExpandEnv(data []byte) []byte {
	expanded := os.ExpandEnv(string(data))
	return []byte(expanded)
}
