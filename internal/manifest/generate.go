package manifest

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/oshokin/dist-zipper/internal/domain/rule"
	"github.com/oshokin/dist-zipper/internal/filter"
	"github.com/oshokin/dist-zipper/internal/walker"
)

// Source is the tree a standalone Generate call walks.
type Source struct {
	// Fs is the filesystem holding Root.
	Fs afero.Fs
	// Root is the directory to describe.
	Root string
	// Policy selects files; nil selects everything.
	Policy *filter.Policy
	// OnError receives unreadable subtrees and files; nil drops them.
	OnError walker.ErrorFunc
}

// Generate walks src and describes every selected file. Directories are
// descended but never become items. The packager does not call it: it feeds
// a Builder from its own single pass so archive and manifest cannot diverge.
func Generate(ctx context.Context, src Source, urlPrefix, folderLabel string) (*Manifest, error) {
	policy := src.Policy
	if policy == nil {
		policy = filter.New(rule.Rule{}, rule.Rule{})
	}

	onError := src.OnError
	if onError == nil {
		onError = func(*walker.SubtreeError) {}
	}

	builder := NewBuilder(folderLabel, folderLabel, urlPrefix)

	err := walker.Walk(ctx, src.Fs, src.Root, func(entry walker.Entry) error {
		decision, err := policy.Decide(entry)
		if err != nil {
			return err
		}

		if entry.IsDir {
			if !decision.Descend {
				return walker.SkipDir
			}

			return nil
		}

		if !decision.Include {
			return nil
		}

		content, err := afero.ReadFile(src.Fs, entry.AbsolutePath)
		if err != nil {
			onError(&walker.SubtreeError{
				Path:         entry.AbsolutePath,
				RelativePath: entry.RelativePath,
				Err:          err,
			})

			return nil
		}

		builder.Add(entry.RelativePath, content)

		return nil
	}, onError)
	if err != nil {
		return nil, fmt.Errorf("generate manifest for %s: %w", src.Root, err)
	}

	return builder.Build(), nil
}
