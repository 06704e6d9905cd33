// Package archive keeps a git history of task versions: submissions land on a
// review branch, approvals on main with a vN tag.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"taskreview/api/internal/model"
	"taskreview/api/internal/tree"
)

const (
	MainBranch   = "main"
	snapshotFile = "snapshot.json"
)

// Snapshot is the archived form of one version.
type Snapshot struct {
	TaskID        string              `json:"taskId"`
	Description   string              `json:"description"`
	VersionID     string              `json:"versionId"`
	VersionNumber int                 `json:"versionNumber"`
	Status        model.VersionStatus `json:"status"`
	BaseVersionID string              `json:"baseVersionId,omitempty"`
	Nodes         []model.Node        `json:"nodes"`
}

// NewSnapshot orders nodes in tree order and drops timestamps so unchanged
// versions produce byte-identical files.
func NewSnapshot(task model.Task, version model.Version, nodes []model.Node) Snapshot {
	ordered := tree.Order(nodes)
	for i := range ordered {
		ordered[i].CreatedAt = time.Time{}
		ordered[i].UpdatedAt = time.Time{}
	}
	return Snapshot{
		TaskID:        task.ID,
		Description:   task.Description,
		VersionID:     version.ID,
		VersionNumber: version.VersionNumber,
		Status:        version.Status,
		BaseVersionID: version.BaseVersionID,
		Nodes:         ordered,
	}
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

func ReviewBranch(versionNumber int) string {
	return "review-v" + strconv.Itoa(versionNumber)
}

func VersionTag(versionNumber int) string {
	return "v" + strconv.Itoa(versionNumber)
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitSnapshot writes the snapshot on branch, creating the task repository and
// the branch (from main) when missing.
func (s *Service) CommitSnapshot(snapshot Snapshot, branch, author, message string) (Commit, error) {
	lock := s.taskLock(snapshot.TaskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(snapshot.TaskID, snapshot, author)
	if err != nil {
		return Commit{}, err
	}

	hash, err := commit(repo, branch, snapshot, author, message)
	if err != nil {
		return Commit{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

var ErrUnknownBranch = errors.New("unknown archive branch")

// History lists the commits reachable from branch, newest first. A task that was
// never archived has an empty history.
func (s *Service) History(taskID, branch string, limit int) ([]Commit, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(taskID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("%w: branch %s", ErrUnknownBranch, branch)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt reads the snapshot stored at a revision: a hash, a branch or a tag.
func (s *Service) SnapshotAt(taskID, revision string) (Snapshot, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(taskID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	commitObj, err := repo.CommitObject(*hash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	return readSnapshot(commitObj)
}

func (s *Service) Tag(taskID, revision, name string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(taskID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return fmt.Errorf("resolve revision %s: %w", revision, err)
	}

	_, err = repo.CreateTag(name, *hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Task Review",
			Email: "archive@taskreview.local",
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

// Remove deletes the task's repository. Removing a missing repository is not an error.
func (s *Service) Remove(taskID string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(taskID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(taskID string) string {
	return filepath.Join(s.baseDir, taskID)
}

func (s *Service) taskLock(taskID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[taskID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[taskID] = lock
	return lock
}

// openOrInit opens the task repository, initializing it with the snapshot as the
// baseline commit on main when it does not exist yet.
func (s *Service) openOrInit(taskID string, baseline Snapshot, author string) (*git.Repository, error) {
	path := s.repoPath(taskID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(MainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	if _, err := writeAndCommit(repo, baseline, author, "Import task baseline"); err != nil {
		return nil, err
	}
	return repo, nil
}

func commit(repo *git.Repository, branch string, snapshot Snapshot, author, message string) (plumbing.Hash, error) {
	if err := checkoutBranch(repo, branch); err != nil {
		return plumbing.ZeroHash, err
	}
	return writeAndCommit(repo, snapshot, author, message)
}

func writeAndCommit(repo *git.Repository, snapshot Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@taskreview.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func checkoutBranch(repo *git.Repository, branch string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("resolve branch %s: %w", branch, err)
		}
		mainRef, err := repo.Reference(plumbing.NewBranchReferenceName(MainBranch), true)
		if err != nil {
			return fmt.Errorf("resolve main: %w", err)
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Hash: mainRef.Hash(), Branch: branchRef, Create: true, Force: true}); err != nil {
			return fmt.Errorf("create branch checkout %s: %w", branch, err)
		}
		return nil
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branch, err)
	}
	return nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
