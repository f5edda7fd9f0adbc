// Package trigger derives the run trigger context from the local git
// checkout: branch, commit, and any tag pointing at HEAD. Stage run
// conditions match against these values.
package trigger

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/pkg/domain"
)

// Resolve inspects the repository containing dir. A missing repository
// is not an error: the trigger comes back empty, and an empty trigger
// only matches stages without branch or tag conditions.
func Resolve(dir string, logger *zap.Logger) domain.Trigger {
	var trig domain.Trigger

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		logger.Debug("no git repository detected",
			zap.String("dir", dir),
			zap.Error(err))
		return trig
	}

	head, err := repo.Head()
	if err != nil {
		logger.Debug("git repository has no resolvable HEAD", zap.Error(err))
		return trig
	}

	trig.Commit = head.Hash().String()
	if head.Name().IsBranch() {
		trig.Branch = head.Name().Short()
	}
	trig.Tag = tagAt(repo, head.Hash())

	logger.Debug("trigger resolved from git",
		zap.String("branch", trig.Branch),
		zap.String("tag", trig.Tag),
		zap.String("commit", shortHash(trig.Commit)))

	return trig
}

// tagAt returns the first tag whose target is the given commit,
// dereferencing annotated tags to their target.
func tagAt(repo *git.Repository, hash plumbing.Hash) string {
	tags, err := repo.Tags()
	if err != nil {
		return ""
	}
	defer tags.Close()

	var found string
	_ = tags.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if obj, err := repo.TagObject(ref.Hash()); err == nil {
			target = obj.Target
		}
		if target == hash {
			found = ref.Name().Short()
			return storer.ErrStop
		}
		return nil
	})
	return found
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
