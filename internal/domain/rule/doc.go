// Package rule defines Rule, the closed set of path-matching rules used by
// include/exclude filtering: a glob, a set of globs, a regular expression or
// a predicate function.
//
// Rules are evaluated against POSIX-style relative paths ("sub/b.txt") on
// every operating system. Glob rules follow doublestar semantics, so "**"
// crosses directory boundaries and may match zero segments.
package rule
