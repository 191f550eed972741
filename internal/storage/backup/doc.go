// Package backup writes and reads full-store backup files.
//
// A backup is a complete dump of every table plus the schema version it was
// taken at. Files are named backup-<ulid>.skb so lexical order is creation
// order:
//
//	[magic:8 "SKBACKUP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:4][Data:DataLen]   (zstd JSON tables, optionally encrypted)
//	[checksum:32 SHA-256 of all bytes above]
//
// Latest falls back to older files when the newest one fails its checksum.
// Prune keeps the newest RetentionCount files, anything younger than
// RetentionDays and always the newest file.
package backup
