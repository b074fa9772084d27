// Package lock keeps two packaging runs from writing the same archive at once.
//
// A run takes a marker file in the system temporary directory that records
// its process ID. Markers left by processes that are gone are reclaimed.
package lock
