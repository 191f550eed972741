// Package repl is a small line-oriented command loop.
//
// Commands are registered by name with a handler taking the remaining
// arguments. Arguments are split on spaces; double quotes group words.
// Lines are kept in a History that can be persisted between sessions.
package repl
