// Package artifact persists packaging outputs (the archive and an external
// manifest) on disk.
//
// Files are replaced atomically through go-update: the new content is
// written next to the target, verified against its SHA-512 checksum and
// renamed over the old file, which is rolled back on failure.
package artifact
