// Package shutdown runs named cleanup hooks in reverse registration order,
// either on demand or when the process receives SIGINT or SIGTERM.
package shutdown
