// Package world aggregates the live world state owned by independent
// collaborators into Snapshots and redistributes Snapshots back to them.
//
// Collaborators register explicitly, in a fixed order. Capture and Apply
// walk that order, so a collaborator may rely on the ones registered before
// it having been applied first (the clock before the scene, for example).
//
// Failures are isolated per collaborator. A collaborator that cannot
// serialize leaves a hole in the snapshot and Capture reports a partial
// capture; one that cannot deserialize does not stop the others, and Apply
// reports every failure together.
package world
