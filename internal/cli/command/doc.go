// Package command provides the savekeep CLI commands.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: root command, global flags, config and logger setup
//   - save.go: save record subcommand group
//   - preset.go: config preset subcommand group
//   - store.go: store maintenance and backups
//   - shell.go: interactive sandbox shell
//   - config.go: configuration subcommand group
//
// Commands that read or change the live world recover it from world_state
// and write it back on close. The others open the store only.
package command
