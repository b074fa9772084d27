// Package packager turns a build output directory into a ZIP archive.
//
// Run waits until the output is ready, walks the directory once through the
// include/exclude policy, feeds every accepted file to both the archive
// builder and (optionally) the manifest builder, and writes the archive
// atomically. Hook adapts Run to a no-argument post-build callback.
package packager
