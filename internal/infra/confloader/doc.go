// Package confloader loads configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Values already in the target struct (defaults)
//  2. A YAML file
//  3. SAVEKEEP_* environment variables
//  4. Explicit overrides from command-line flags (LoadMap)
//
// Watcher reports edits of the configuration file so long-running commands
// can pick up changes such as the log level.
package confloader
