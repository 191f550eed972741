// Package app constructs and wires the savekeep components.
//
// An App is the single process-wide context: one store, one world
// aggregator and the managers that operate on them. It is built
// explicitly at startup and passed to whatever drives it (the CLI
// commands or the interactive shell); nothing here is a package-level
// singleton.
package app
