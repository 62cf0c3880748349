package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	log "github.com/sirupsen/logrus"
)

// gcInterval defines minimum time between garbage collection runs.
const gcInterval = 5 * time.Minute

// GitStore keeps the secrets document inside a git working tree and pushes every
// change to the configured remote. History is squashed to a single commit so old
// tokens do not accumulate in the remote.
type GitStore struct {
	mu       sync.Mutex
	repoDir  string
	remote   string
	username string
	password string
	file     *FileStore
	lastGC   time.Time
}

// NewGitStore creates a git-backed store with its working tree at repoDir.
func NewGitStore(repoDir, remote, username, password string) (*GitStore, error) {
	repoDir = strings.TrimSpace(repoDir)
	if repoDir == "" {
		return nil, fmt.Errorf("git store: repository path is required")
	}
	if abs, err := filepath.Abs(repoDir); err == nil {
		repoDir = abs
	}
	file, err := NewFileStore(filepath.Join(repoDir, DefaultSecretsFile))
	if err != nil {
		return nil, err
	}
	return &GitStore{
		repoDir:  repoDir,
		remote:   strings.TrimSpace(remote),
		username: username,
		password: password,
		file:     file,
	}, nil
}

// EnsureRepository prepares the local git working tree by cloning or opening the repository.
func (s *GitStore) EnsureRepository(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remote == "" {
		return fmt.Errorf("git store: remote not configured")
	}
	gitDir := filepath.Join(s.repoDir, ".git")
	authMethod := s.gitAuth()
	if _, err := os.Stat(gitDir); errors.Is(err, fs.ErrNotExist) {
		if errMk := os.MkdirAll(s.repoDir, 0o700); errMk != nil {
			return fmt.Errorf("git store: create repo dir: %w", errMk)
		}
		if _, errClone := git.PlainCloneContext(ctx, s.repoDir, &git.CloneOptions{Auth: authMethod, URL: s.remote}); errClone != nil {
			if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
				return fmt.Errorf("git store: clone remote: %w", errClone)
			}
			_ = os.RemoveAll(gitDir)
			repo, errInit := git.PlainInit(s.repoDir, false)
			if errInit != nil {
				return fmt.Errorf("git store: init empty repo: %w", errInit)
			}
			if _, errCreate := repo.CreateRemote(&config.RemoteConfig{
				Name: "origin",
				URLs: []string{s.remote},
			}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
				return fmt.Errorf("git store: configure remote: %w", errCreate)
			}
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("git store: stat repo: %w", err)
	}

	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	if errPull := worktree.PullContext(ctx, &git.PullOptions{Auth: authMethod, RemoteName: "origin", Force: true}); errPull != nil {
		switch {
		case errors.Is(errPull, git.NoErrAlreadyUpToDate),
			errors.Is(errPull, git.ErrUnstagedChanges),
			errors.Is(errPull, git.ErrNonFastForwardUpdate):
			// Local changes win; they are force-pushed on the next save.
		case errors.Is(errPull, transport.ErrAuthenticationRequired),
			errors.Is(errPull, plumbing.ErrReferenceNotFound),
			errors.Is(errPull, transport.ErrEmptyRemoteRepository):
		default:
			return fmt.Errorf("git store: pull: %w", errPull)
		}
	}
	return nil
}

// Save writes the local document first and then commits and pushes it. The local
// value is kept when the push fails; the next save pushes it again.
func (s *GitStore) Save(ctx context.Context, key string, value []byte) error {
	if err := s.file.Save(ctx, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitAndPushLocked(ctx, fmt.Sprintf("Update %s", key), DefaultSecretsFile); err != nil {
		log.Warnf("git store: %s saved locally but not synced: %v", key, err)
		return err
	}
	return nil
}

func (s *GitStore) Load(ctx context.Context, key string) ([]byte, error) {
	return s.file.Load(ctx, key)
}

func (s *GitStore) gitAuth() transport.AuthMethod {
	if s.username == "" && s.password == "" {
		return nil
	}
	user := s.username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.password}
}

func (s *GitStore) commitAndPushLocked(ctx context.Context, message string, relPaths ...string) error {
	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	for _, rel := range relPaths {
		if _, err = worktree.Add(rel); err != nil {
			return fmt.Errorf("git store: add %s: %w", rel, err)
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git store: status: %w", err)
	}
	if status.IsClean() {
		// An earlier push may have failed after its commit.
		if _, errHead := repo.Head(); errHead != nil {
			return nil
		}
		return s.pushLocked(ctx, repo, message)
	}
	signature := &object.Signature{
		Name:  "tokenkeeper",
		Email: "tokenkeeper@local",
		When:  time.Now(),
	}
	commitHash, err := worktree.Commit(message, &git.CommitOptions{Author: signature})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git store: commit: %w", err)
	}
	headRef, errHead := repo.Head()
	if errHead != nil {
		if !errors.Is(errHead, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("git store: get head: %w", errHead)
		}
	} else if errRewrite := s.rewriteHeadAsSingleCommit(repo, headRef.Name(), commitHash, message, signature); errRewrite != nil {
		return errRewrite
	}
	s.maybeRunGC(repo)
	return s.pushLocked(ctx, repo, message)
}

func (s *GitStore) pushLocked(ctx context.Context, repo *git.Repository, message string) error {
	if err := repo.PushContext(ctx, &git.PushOptions{Auth: s.gitAuth(), Force: true}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("git store: push: %w", err)
	}
	log.Debugf("git store: pushed %s", message)
	return nil
}

// rewriteHeadAsSingleCommit rewrites the current branch tip to a parentless commit.
func (s *GitStore) rewriteHeadAsSingleCommit(repo *git.Repository, branch plumbing.ReferenceName, commitHash plumbing.Hash, message string, signature *object.Signature) error {
	commitObj, err := repo.CommitObject(commitHash)
	if err != nil {
		return fmt.Errorf("git store: inspect head commit: %w", err)
	}
	squashed := &object.Commit{
		Author:       *signature,
		Committer:    *signature,
		Message:      message,
		TreeHash:     commitObj.TreeHash,
		ParentHashes: nil,
		Encoding:     commitObj.Encoding,
		ExtraHeaders: commitObj.ExtraHeaders,
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.CommitObject)
	if err := squashed.Encode(mem); err != nil {
		return fmt.Errorf("git store: encode squashed commit: %w", err)
	}
	newHash, err := repo.Storer.SetEncodedObject(mem)
	if err != nil {
		return fmt.Errorf("git store: write squashed commit: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branch, newHash)); err != nil {
		return fmt.Errorf("git store: update branch reference: %w", err)
	}
	return nil
}

func (s *GitStore) maybeRunGC(repo *git.Repository) {
	now := time.Now()
	if now.Sub(s.lastGC) < gcInterval {
		return
	}
	s.lastGC = now

	pruneOpts := git.PruneOptions{
		OnlyObjectsOlderThan: now,
		Handler:              repo.DeleteObject,
	}
	if err := repo.Prune(pruneOpts); err != nil && !errors.Is(err, git.ErrLooseObjectsNotSupported) {
		return
	}
	_ = repo.RepackObjects(&git.RepackConfig{})
}
