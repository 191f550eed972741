// Package sandbox provides a small reference world made of collaborators:
// a game clock, the current scene, actor stats, relationships, inventory
// and story flags.
//
// The interactive shell drives it, and tests use it to exercise capture,
// save, load and rewind end to end. Every collaborator is safe for
// concurrent use.
package sandbox
