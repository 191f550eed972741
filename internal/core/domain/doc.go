// Package domain defines the core value types of the savekeep engine.
//
// Domain types are plain values without IO dependencies. This package contains:
//
//   - Snapshot: the captured world, one Fragment per collaborator
//   - SaveRecord: a categorized, persisted Snapshot plus listing metadata
//   - ConfigPreset: external-collaborator configuration with an active pointer
//   - GameTime: the in-game clock and its absolute-minute arithmetic
//   - Errors: structured error codes shared by every layer
package domain
