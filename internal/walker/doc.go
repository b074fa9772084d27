// Package walker enumerates a directory tree depth-first, pre-order, pairing
// every entry with its POSIX path relative to the walk root.
//
// A directory that cannot be listed is reported through an error callback and
// skipped; the rest of the tree is still walked.
package walker
