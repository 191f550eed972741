// Package main provides the entry point for savekeep.
//
// savekeep manages save slots, backups and config presets for a world
// stored in a local badger or sqlite database, and ships an interactive
// sandbox shell for exercising saves, rewind and autosave:
//
//	savekeep save list
//	savekeep save create manual --name "before the storm"
//	savekeep store backup
//	savekeep shell
package main
