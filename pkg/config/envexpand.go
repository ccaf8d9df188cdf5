package config

import "os"

// ExpandEnv expands environment variables in YAML content using the standard
// library's shell-style substitution. Supports both ${VAR} and $VAR syntax.
//
// Missing variables expand to empty string; validation is responsible for
// catching required fields that end up empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
