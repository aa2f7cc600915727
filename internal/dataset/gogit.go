package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	formatconfig "github.com/go-git/go-git/v5/plumbing/format/config"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/jonesrussell/goregistry/internal/logger"
)

const (
	// shortHashLen matches the abbreviated hash emitted when no tag
	// describes the head.
	shortHashLen = 8

	datasetConfigFile = ".datalad/config"
	originRemoteName  = "origin"
	annexBranchRef    = "refs/remotes/origin/git-annex"
)

// GitToolkit implements Toolkit on top of go-git.
type GitToolkit struct {
	logger logger.Interface
}

// NewGitToolkit creates a go-git backed dataset toolkit.
func NewGitToolkit(log logger.Interface) *GitToolkit {
	return &GitToolkit{logger: log}
}

// Clone copies the dataset at url into dest. The clone must yield a usable
// repository with a resolvable head; anything less is an ErrClone.
func (t *GitToolkit) Clone(ctx context.Context, url, dest string) (*Snapshot, error) {
	t.logger.Debug("cloning dataset", "url", url, "dest", dest)

	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:  url,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrClone, url, err)
	}

	if _, headErr := repo.Head(); headErr != nil {
		return nil, fmt.Errorf("%w: %s: clone has no resolvable head: %v", ErrClone, url, headErr)
	}

	return &Snapshot{Path: dest}, nil
}

// Info reads repository statistics from a clone.
func (t *GitToolkit) Info(_ context.Context, snap *Snapshot) (*RepoInfo, error) {
	repo, err := git.PlainOpen(snap.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset clone: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve clone head: %w", err)
	}

	branches, tags, err := collectRefs(repo)
	if err != nil {
		return nil, err
	}

	objectsKB, err := gitObjectsKB(snap.Path)
	if err != nil {
		return nil, err
	}

	info := &RepoInfo{
		DatasetID:    readDatasetID(snap.Path),
		AnnexUUID:    readAnnexUUID(repo),
		GitObjectsKB: objectsKB,
		Head:         head.Hash().String(),
		HeadDescribe: describe(head.Hash(), tags),
		Branches:     branches,
		Tags:         tags,
	}

	info.AnnexKeyCount = countAnnexKeys(repo)
	info.AnnexedFilesCount, info.AnnexedFilesSize = workingTreeAnnexStats(snap.Path)

	return info, nil
}

// Version returns the head hash of the clone at path.
func (t *GitToolkit) Version(_ context.Context, path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("failed to open dataset clone: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve clone head: %w", err)
	}

	return head.Hash().String(), nil
}

// RemoteHead lists the remote's advertised refs and returns the hash HEAD
// points at, without cloning.
func (t *GitToolkit) RemoteHead(ctx context.Context, url string) (string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: originRemoteName,
		URLs: []string{url},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrClone, url, err)
	}

	byName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(refs))
	for _, ref := range refs {
		byName[ref.Name()] = ref
	}

	headRef, ok := byName[plumbing.HEAD]
	if !ok {
		return "", fmt.Errorf("%w: %s: remote advertises no HEAD", ErrClone, url)
	}

	if headRef.Type() == plumbing.SymbolicReference {
		target, found := byName[headRef.Target()]
		if !found {
			return "", fmt.Errorf("%w: %s: remote HEAD target %s not advertised",
				ErrClone, url, headRef.Target())
		}
		return target.Hash().String(), nil
	}

	return headRef.Hash().String(), nil
}

// collectRefs maps origin branch names and tag names to their hashes.
func collectRefs(repo *git.Repository) (branches, tags map[string]any, err error) {
	branches = make(map[string]any)
	tags = make(map[string]any)

	iter, err := repo.References()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to iterate clone references: %w", err)
	}

	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		switch {
		case name.IsRemote():
			branches[name.Short()] = ref.Hash().String()
		case name.IsTag():
			tags[name.Short()] = ref.Hash().String()
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to collect clone references: %w", err)
	}

	return branches, tags, nil
}

// describe returns the name of a tag pointing exactly at hash, or the
// abbreviated hash when no tag matches (git describe --always semantics).
func describe(hash plumbing.Hash, tags map[string]any) string {
	for name, tagHash := range tags {
		if tagHash == hash.String() {
			return name
		}
	}
	return hash.String()[:shortHashLen]
}

// readDatasetID reads the dataset identifier from the clone's .datalad/config,
// which uses git-config syntax. Returns nil when the clone carries none.
func readDatasetID(path string) *string {
	f, err := os.Open(filepath.Join(path, datasetConfigFile))
	if err != nil {
		return nil
	}
	defer f.Close()

	cfg := formatconfig.New()
	if decodeErr := formatconfig.NewDecoder(f).Decode(cfg); decodeErr != nil {
		return nil
	}

	id := cfg.Section("datalad").Subsection("dataset").Option("id")
	if id == "" {
		return nil
	}
	return &id
}

// readAnnexUUID reads the origin remote's annex UUID from the clone's git
// config. Returns nil for repositories without an annex.
func readAnnexUUID(repo *git.Repository) *string {
	cfg, err := repo.Config()
	if err != nil {
		return nil
	}

	uuid := cfg.Raw.Section("remote").Subsection(originRemoteName).Option("annex-uuid")
	if uuid == "" {
		return nil
	}
	return &uuid
}

// countAnnexKeys counts the per-key log entries on the origin git-annex
// branch. Returns nil for repositories without one.
func countAnnexKeys(repo *git.Repository) *int64 {
	ref, err := repo.Reference(plumbing.ReferenceName(annexBranchRef), true)
	if err != nil {
		return nil
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil
	}

	var count int64
	files := tree.Files()
	defer files.Close()
	for {
		f, nextErr := files.Next()
		if nextErr != nil {
			break
		}
		if isAnnexKeyLog(filepath.Base(f.Name)) {
			count++
		}
	}

	return &count
}

// isAnnexKeyLog reports whether name is a per-key location log
// (e.g. SHA256E-s1024--deadbeef.log). Branch-level logs such as uuid.log
// carry no key separator and are excluded.
func isAnnexKeyLog(name string) bool {
	return filepath.Ext(name) == ".log" && strings.Contains(name, "--")
}

// workingTreeAnnexStats counts annexed files in the working tree and sums
// their sizes, parsed from the annex key embedded in each symlink target.
// Returns nils when the working tree has no annexed files.
func workingTreeAnnexStats(path string) (count, size *int64) {
	var nFiles, totalSize int64

	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == git.GitDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}

		target, linkErr := os.Readlink(p)
		if linkErr != nil {
			return nil
		}
		if !isAnnexObjectPath(target) {
			return nil
		}

		nFiles++
		totalSize += annexKeySize(filepath.Base(target))
		return nil
	})

	if nFiles == 0 {
		return nil, nil
	}
	return &nFiles, &totalSize
}

// isAnnexObjectPath reports whether a symlink target points into the annex
// object store. Annexed files link through relative paths such as
// ../../.git/annex/objects/<shards>/<key>.
func isAnnexObjectPath(target string) bool {
	return strings.Contains(filepath.ToSlash(target), ".git/annex/objects")
}

// annexKeySize parses the byte size embedded in an annex key
// (e.g. SHA256E-s1024--deadbeef -> 1024). Returns 0 for keys without one.
func annexKeySize(key string) int64 {
	for i := 0; i+1 < len(key); i++ {
		if key[i] != '-' || key[i+1] != 's' {
			continue
		}
		var n int64
		j := i + 2
		for ; j < len(key) && key[j] >= '0' && key[j] <= '9'; j++ {
			n = n*10 + int64(key[j]-'0')
		}
		if j > i+2 {
			return n
		}
	}
	return 0
}

// gitObjectsKB sums the size of the clone's git object store in kilobytes.
func gitObjectsKB(path string) (int64, error) {
	objectsDir := filepath.Join(path, git.GitDirName, "objects")

	var total int64
	err := filepath.WalkDir(objectsDir, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size git object store: %w", err)
	}

	return total / 1024, nil
}
