// Package savegame manages save records: creation into rotating slot pools,
// listing, restore, rename, delete, quick save with cooldown, and JSON
// export/import.
//
// Every mutating operation holds the manager's operation lock, so two saves
// never interleave. The slot is chosen inside the same store transaction
// that writes the record and its save_index entry.
package savegame
