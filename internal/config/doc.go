// Package config provides the savekeep configuration.
//
//   - spec.go: Config struct definition
//   - default.go: Default configuration values
//   - verify.go: Validation (ranges, enums, key format)
//   - sanitize.go: Masking of secrets for display and logs
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and SAVEKEEP_* environment variables.
package config
