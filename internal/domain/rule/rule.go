package rule

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind identifies which variant a Rule holds.
type Kind uint8

const (
	// KindUnset is the zero Rule. It never matches.
	KindUnset Kind = iota
	// KindGlob is a single doublestar pattern.
	KindGlob
	// KindGlobSet is an ordered set of doublestar patterns; any match wins.
	KindGlobSet
	// KindRegexp is a regular expression tested against the whole path string.
	KindRegexp
	// KindPredicate delegates the decision to caller code.
	KindPredicate
)

// MatchAll is the pattern used when no include rule is configured.
const MatchAll = "**/*"

// Predicate is caller-defined matching logic. Returned errors abort the run.
type Predicate func(path string) (bool, error)

// Rule is an immutable path-matching rule. Build one with Glob, Globs,
// Regexp, CompileRegexp or Func; the zero value is an unset rule.
type Rule struct {
	kind      Kind
	patterns  []string
	re        *regexp.Regexp
	predicate Predicate
}

var (
	// ErrBadPattern is returned for glob patterns doublestar cannot parse.
	ErrBadPattern = errors.New("invalid glob pattern")
	// ErrNoPatterns is returned when a glob set is built from nothing.
	ErrNoPatterns = errors.New("glob set must contain at least one pattern")
	// ErrNilRegexp is returned when Regexp receives nil.
	ErrNilRegexp = errors.New("regular expression is nil")
	// ErrNilPredicate is returned when Func receives nil.
	ErrNilPredicate = errors.New("predicate is nil")
)

// Glob returns a rule for a single doublestar pattern.
func Glob(pattern string) (Rule, error) {
	if !doublestar.ValidatePattern(pattern) {
		return Rule{}, fmt.Errorf("%q: %w", pattern, ErrBadPattern)
	}

	return Rule{
		kind:     KindGlob,
		patterns: []string{pattern},
	}, nil
}

// Globs returns a rule matching when any of patterns matches.
func Globs(patterns ...string) (Rule, error) {
	if len(patterns) == 0 {
		return Rule{}, ErrNoPatterns
	}

	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return Rule{}, fmt.Errorf("%q: %w", pattern, ErrBadPattern)
		}
	}

	return Rule{
		kind:     KindGlobSet,
		patterns: append([]string(nil), patterns...),
	}, nil
}

// MustGlob is like Glob but panics on an invalid pattern.
func MustGlob(pattern string) Rule {
	r, err := Glob(pattern)
	if err != nil {
		panic(err)
	}

	return r
}

// All returns the match-everything rule.
func All() Rule {
	return MustGlob(MatchAll)
}

// Regexp returns a rule backed by an already compiled expression.
func Regexp(re *regexp.Regexp) (Rule, error) {
	if re == nil {
		return Rule{}, ErrNilRegexp
	}

	return Rule{
		kind: KindRegexp,
		re:   re,
	}, nil
}

// CompileRegexp compiles expr and returns a rule for it.
func CompileRegexp(expr string) (Rule, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("compile regular expression %q: %w", expr, err)
	}

	return Regexp(re)
}

// Func returns a rule that delegates to predicate.
func Func(predicate Predicate) (Rule, error) {
	if predicate == nil {
		return Rule{}, ErrNilPredicate
	}

	return Rule{
		kind:      KindPredicate,
		predicate: predicate,
	}, nil
}

// Kind reports the variant held by r.
func (r Rule) Kind() Kind {
	return r.kind
}

// IsZero reports whether r is unset.
func (r Rule) IsZero() bool {
	return r.kind == KindUnset
}

// Patterns returns a copy of the glob patterns of a glob rule.
func (r Rule) Patterns() []string {
	return append([]string(nil), r.patterns...)
}

// Matches reports whether path satisfies r. An empty path never matches.
// Only predicate rules can return an error.
func (r Rule) Matches(path string) (bool, error) {
	if path == "" {
		return false, nil
	}

	switch r.kind {
	case KindGlob, KindGlobSet:
		return r.matchGlobs(path), nil
	case KindRegexp:
		return r.re.MatchString(path), nil
	case KindPredicate:
		return r.predicate(path)
	case KindUnset:
		return false, nil
	default:
		return false, nil
	}
}

// MatchesDir is Matches for directory paths. Glob rules are additionally
// tested against path+"/", so "node_modules/**" also matches the
// "node_modules" directory itself.
func (r Rule) MatchesDir(path string) (bool, error) {
	matched, err := r.Matches(path)
	if err != nil || matched {
		return matched, err
	}

	if path == "" || (r.kind != KindGlob && r.kind != KindGlobSet) {
		return false, nil
	}

	return r.matchGlobs(path + "/"), nil
}

// String renders r for logs.
func (r Rule) String() string {
	switch r.kind {
	case KindGlob:
		return r.patterns[0]
	case KindGlobSet:
		return fmt.Sprintf("%q", r.patterns)
	case KindRegexp:
		return "/" + r.re.String() + "/"
	case KindPredicate:
		return "<predicate>"
	case KindUnset:
		return "<unset>"
	default:
		return "<unknown>"
	}
}

func (r Rule) matchGlobs(path string) bool {
	for _, pattern := range r.patterns {
		// Patterns were validated on construction.
		if doublestar.MatchUnvalidated(pattern, path) {
			return true
		}
	}

	return false
}
