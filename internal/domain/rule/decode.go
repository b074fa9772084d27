package rule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Keys accepted in the mapping form of a rule.
const (
	keyGlob  = "glob"
	keyGlobs = "globs"
	keyRegex = "regex"
)

// ErrUnsupportedValue is returned when a configuration value has no rule shape.
var ErrUnsupportedValue = errors.New("unsupported rule value")

// FromValue builds a rule from a decoded YAML or TOML value:
//
//	"dist/**"                    -> glob
//	["*.js", "*.css"]            -> glob set
//	{glob: "*.js"}               -> glob
//	{globs: ["*.js", "*.css"]}   -> glob set
//	{regex: "\\.map$"}           -> regular expression
//
// A nil value returns the zero rule.
func FromValue(value any) (Rule, error) {
	switch v := value.(type) {
	case nil:
		return Rule{}, nil
	case string:
		return Glob(v)
	case []string:
		return Globs(v...)
	case []any:
		patterns, err := toStrings(v)
		if err != nil {
			return Rule{}, err
		}

		return Globs(patterns...)
	case map[string]any:
		return fromMap(v)
	default:
		return Rule{}, fmt.Errorf("%T: %w", value, ErrUnsupportedValue)
	}
}

func fromMap(m map[string]any) (Rule, error) {
	if len(m) != 1 {
		keys := make([]string, 0, len(m))
		for key := range m {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		return Rule{}, fmt.Errorf("expected exactly one of %s, %s, %s, got [%s]: %w",
			keyGlob, keyGlobs, keyRegex, strings.Join(keys, ", "), ErrUnsupportedValue)
	}

	for key, value := range m {
		switch key {
		case keyGlob:
			pattern, ok := value.(string)
			if !ok {
				return Rule{}, fmt.Errorf("%s must be a string, got %T: %w", keyGlob, value, ErrUnsupportedValue)
			}

			return Glob(pattern)
		case keyGlobs:
			list, ok := value.([]any)
			if !ok {
				return Rule{}, fmt.Errorf("%s must be a list, got %T: %w", keyGlobs, value, ErrUnsupportedValue)
			}

			patterns, err := toStrings(list)
			if err != nil {
				return Rule{}, err
			}

			return Globs(patterns...)
		case keyRegex:
			expr, ok := value.(string)
			if !ok {
				return Rule{}, fmt.Errorf("%s must be a string, got %T: %w", keyRegex, value, ErrUnsupportedValue)
			}

			return CompileRegexp(expr)
		default:
			return Rule{}, fmt.Errorf("unknown key %q: %w", key, ErrUnsupportedValue)
		}
	}

	return Rule{}, ErrUnsupportedValue
}

func toStrings(values []any) ([]string, error) {
	result := make([]string, 0, len(values))

	for i, value := range values {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, not a string: %w", i, value, ErrUnsupportedValue)
		}

		result = append(result, s)
	}

	return result, nil
}
