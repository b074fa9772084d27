// Package filter turns include/exclude rules into per-entry packaging
// decisions.
//
// Exclusion is a hard cut: an excluded directory is never descended. The
// include rule only selects files; directories are always descended so that
// patterns such as "**/*.js" reach nested files.
package filter

import (
	"fmt"

	"github.com/oshokin/dist-zipper/internal/domain/rule"
	"github.com/oshokin/dist-zipper/internal/walker"
)

// Decision is the verdict for one entry.
type Decision struct {
	// Include reports whether the entry is packaged. For directories it means
	// the folder itself is accepted.
	Include bool
	// Descend reports whether the walker should enter the directory.
	Descend bool
	// Reason names the rule that decided, for verbose logs.
	Reason string
}

// Reasons reported in Decision.Reason.
const (
	ReasonExcluded = "excluded"
	ReasonReserved = "reserved"
	ReasonIncluded = "included"
	ReasonNoMatch  = "not included"
	ReasonFolder   = "folder"
)

// Policy evaluates include and exclude rules. It is safe for concurrent use
// as long as the rules' predicates are.
type Policy struct {
	include  rule.Rule
	exclude  rule.Rule
	reserved map[string]struct{}
}

// Option customises a Policy.
type Option func(*Policy)

// WithReserved excludes the given relative paths unconditionally. The
// packager reserves its own outputs so a rerun never packages them.
func WithReserved(relativePaths ...string) Option {
	return func(p *Policy) {
		for _, path := range relativePaths {
			if path != "" {
				p.reserved[path] = struct{}{}
			}
		}
	}
}

// New builds a policy. An unset include rule matches every file; an unset
// exclude rule excludes nothing.
func New(include, exclude rule.Rule, opts ...Option) *Policy {
	p := &Policy{
		include:  include,
		exclude:  exclude,
		reserved: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Decide returns the decision for entry. Errors come from predicate rules.
func (p *Policy) Decide(entry walker.Entry) (Decision, error) {
	if _, ok := p.reserved[entry.RelativePath]; ok {
		return Decision{Reason: ReasonReserved}, nil
	}

	excluded, err := p.isExcluded(entry)
	if err != nil {
		return Decision{}, err
	}

	if excluded {
		return Decision{Reason: ReasonExcluded}, nil
	}

	if entry.IsDir {
		return Decision{
			Include: true,
			Descend: true,
			Reason:  ReasonFolder,
		}, nil
	}

	if p.include.IsZero() {
		return Decision{
			Include: true,
			Reason:  ReasonIncluded,
		}, nil
	}

	included, err := p.include.Matches(entry.RelativePath)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate include rule for %s: %w", entry.RelativePath, err)
	}

	if !included {
		return Decision{Reason: ReasonNoMatch}, nil
	}

	return Decision{
		Include: true,
		Reason:  ReasonIncluded,
	}, nil
}

func (p *Policy) isExcluded(entry walker.Entry) (bool, error) {
	if p.exclude.IsZero() {
		return false, nil
	}

	var (
		excluded bool
		err      error
	)

	if entry.IsDir {
		excluded, err = p.exclude.MatchesDir(entry.RelativePath)
	} else {
		excluded, err = p.exclude.Matches(entry.RelativePath)
	}

	if err != nil {
		return false, fmt.Errorf("evaluate exclude rule for %s: %w", entry.RelativePath, err)
	}

	return excluded, nil
}
