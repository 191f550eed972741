// Package presets stores the config presets of the external content
// collaborator under config_presets/main and imports legacy settings on
// first access.
//
// Exactly one preset is active. Deleting the active preset moves the pointer
// to the first remaining one; deleting the last preset fails. Writers notify
// subscribers after commit instead of dependents polling the store.
package presets
