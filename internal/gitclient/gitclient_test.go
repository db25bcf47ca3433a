package gitclient

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-cmp/cmp"
)

var testAuthor = &object.Signature{
	Name:  "Test User",
	Email: "test@example.com",
	When:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
}

// createTestRepo initializes a git repo in a temp dir with an initial commit
// containing README.md and returns the path to that directory.
func createTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init git repo: %v", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("exports"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := w.Add("README.md"); err != nil {
		t.Fatalf("Failed to add files: %v", err)
	}
	if _, err := w.Commit("Initial commit", &git.CommitOptions{Author: testAuthor}); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func headFiles(t *testing.T, dir string) (string, []string) {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatal(err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatal(err)
	}
	var files []string
	iter, err := commit.Files()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()
	err = iter.ForEach(func(f *object.File) error {
		files = append(files, f.Name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(files)
	return commit.Message, files
}

func TestCommitFiles(t *testing.T) {
	dir := createTestRepo(t)
	out := filepath.Join(dir, "exports", "entities.json")
	report := filepath.Join(dir, "exports", "report.md")
	writeFile(t, out, `{"service":[]}`)
	writeFile(t, report, "# Report")

	// Open from a subdirectory to exercise .git detection.
	c, err := Open(filepath.Dir(out))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	t.Run("new files", func(t *testing.T) {
		hash, committed, err := c.CommitFiles("Export entities", testAuthor, out, report)
		if err != nil {
			t.Fatalf("CommitFiles failed: %v", err)
		}
		if !committed || hash.IsZero() {
			t.Fatalf("CommitFiles() = %v, %v, want a commit", hash, committed)
		}
		msg, files := headFiles(t, dir)
		if msg != "Export entities" {
			t.Errorf("commit message = %q", msg)
		}
		want := []string{"README.md", "exports/entities.json", "exports/report.md"}
		if diff := cmp.Diff(want, files); diff != "" {
			t.Errorf("HEAD files mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unchanged", func(t *testing.T) {
		_, committed, err := c.CommitFiles("Export entities again", testAuthor, out)
		if err != nil {
			t.Fatalf("CommitFiles failed: %v", err)
		}
		if committed {
			t.Error("CommitFiles() committed an unchanged file")
		}
		if msg, _ := headFiles(t, dir); msg != "Export entities" {
			t.Errorf("HEAD moved to %q", msg)
		}
	})

	t.Run("modified", func(t *testing.T) {
		writeFile(t, out, `{"service":[{"identifier":"a"}]}`)
		_, committed, err := c.CommitFiles("Update export", testAuthor, out)
		if err != nil {
			t.Fatalf("CommitFiles failed: %v", err)
		}
		if !committed {
			t.Error("CommitFiles() did not commit a modified file")
		}
		if msg, _ := headFiles(t, dir); msg != "Update export" {
			t.Errorf("commit message = %q", msg)
		}
	})

	t.Run("outside of repository", func(t *testing.T) {
		other := filepath.Join(t.TempDir(), "e.json")
		writeFile(t, other, "{}")
		if _, _, err := c.CommitFiles("x", testAuthor, other); err == nil {
			t.Error("CommitFiles() succeeded for a file outside of the repository")
		}
	})
}

func TestOpenNotARepository(t *testing.T) {
	_, err := Open(t.TempDir())
	if !errors.Is(err, ErrNotARepository) {
		t.Errorf("Open() error = %v, want ErrNotARepository", err)
	}
}

func TestRoot(t *testing.T) {
	dir := createTestRepo(t)
	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if c.Root() != want {
		t.Errorf("Root() = %q, want %q", c.Root(), want)
	}
}

func TestCommitFilesOtherStagedChanges(t *testing.T) {
	dir := createTestRepo(t)
	out := filepath.Join(dir, "entities.json")
	writeFile(t, out, `{}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "wip")

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add("notes.txt"); err != nil {
		t.Fatal(err)
	}

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, committed, err := c.CommitFiles("Export entities", testAuthor, out)
	if !errors.Is(err, ErrOtherStagedChanges) {
		t.Fatalf("CommitFiles() error = %v, want ErrOtherStagedChanges", err)
	}
	if committed {
		t.Error("CommitFiles() reported a commit")
	}
	if msg, files := headFiles(t, dir); msg != "Initial commit" || !slices.Equal(files, []string{"README.md"}) {
		t.Errorf("HEAD = %q %v, want the initial commit", msg, files)
	}
	status, err := w.Status()
	if err != nil {
		t.Fatal(err)
	}
	if fs := status.File("entities.json"); fs.Staging != git.Untracked {
		t.Errorf("entities.json staging = %c, want it left unstaged", fs.Staging)
	}
}
