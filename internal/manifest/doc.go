// Package manifest describes packaged files for consumers of the archive:
// every item carries its relative path, a URL built from a prefix, a MIME
// type inferred from the extension and a content tag for cache busting.
//
// Tags are xxhash64 digests of file bytes, so unchanged files keep their tag
// from one build to the next.
package manifest
