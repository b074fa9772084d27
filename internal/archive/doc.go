// Package archive holds the in-memory folder/file tree of one packaging run
// and serializes it into a deterministic ZIP container.
//
// Entries are written depth-first in insertion order with a fixed
// modification time and fixed modes, so the same input always produces the
// same bytes. Deflate is provided by klauspost/compress.
package archive
