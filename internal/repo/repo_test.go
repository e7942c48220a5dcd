package repo

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"beargit/internal/commitid"
	"beargit/internal/config"
	"beargit/internal/layout"
	"beargit/internal/lock"
	"beargit/internal/snapshot"
	"beargit/internal/status"
	"beargit/internal/store"
)

func quietOptions() Options {
	return Options{
		Logger:   log.New(io.Discard, "", 0),
		Warnings: io.Discard,
	}
}

func setupTestRepo(t *testing.T) *Repo {
	t.Helper()

	r, err := Init(t.TempDir(), quietOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func writeFile(t *testing.T, r *Repo, name, content string) {
	t.Helper()
	p := filepath.Join(r.Root(), filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func mustCommit(t *testing.T, r *Repo, msg string) commitid.ID {
	t.Helper()
	id, err := r.Commit(msg)
	if err != nil {
		t.Fatalf("Commit(%q) failed: %v", msg, err)
	}
	return id
}

func trackedNames(t *testing.T, r *Repo) []string {
	t.Helper()
	res, err := r.Status(false)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	var names []string
	for _, e := range res.Entries {
		names = append(names, e.Name)
	}
	return names
}

func TestInit(t *testing.T) {
	r := setupTestRepo(t)
	l := layout.New(r.Root())

	data, err := os.ReadFile(l.IndexPath())
	if err != nil {
		t.Fatalf("reading index: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("index should be empty, got %q", data)
	}

	head, err := r.Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head != commitid.Sentinel {
		t.Errorf("HEAD = %s, want sentinel", head)
	}

	entries, err := r.Log()
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty log, got %d entries", len(entries))
	}
}

func TestInit_AlreadyInitialized(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "hello")
	if err := r.Add("a.txt"); err != nil {
		t.Fatal(err)
	}

	_, err := Init(r.Root(), quietOptions())
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	// Existing state must survive
	if names := trackedNames(t, r); len(names) != 1 || names[0] != "a.txt" {
		t.Errorf("index changed by second init: %v", names)
	}
}

func TestOpen_NotInitialized(t *testing.T) {
	_, err := Open(t.TempDir(), quietOptions())
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestAdd(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "a")
	writeFile(t, r, "b.txt", "b")
	writeFile(t, r, "dir/c.txt", "c")

	for _, name := range []string{"b.txt", "a.txt", "./dir/c.txt"} {
		if err := r.Add(name); err != nil {
			t.Fatalf("Add(%q) failed: %v", name, err)
		}
	}

	got := strings.Join(trackedNames(t, r), ",")
	if got != "b.txt,a.txt,dir/c.txt" {
		t.Errorf("tracked = %s, want insertion order", got)
	}
}

func TestAdd_Errors(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "a")
	writeFile(t, r, "build.log", "noise")
	writeFile(t, r, layout.IgnoreFile, "*.log\n")
	if err := os.Mkdir(filepath.Join(r.Root(), "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	// Reopen so the ignore file is read
	r.Close()
	r, err := Open(r.Root(), quietOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Add("a.txt"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		wantErr error
		wantMsg string
	}{
		{"a.txt", ErrAlreadyTracked, "File a.txt already added"},
		{"missing.txt", ErrNoSuchFile, ""},
		{"subdir", ErrNoSuchFile, ""},
		{"build.log", ErrIgnored, ""},
		{".beargit/.index", ErrInvalidName, ""},
		{"../outside", ErrInvalidName, ""},
		{"", ErrInvalidName, ""},
	}
	for _, tt := range tests {
		err := r.Add(tt.name)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Add(%q): expected %v, got %v", tt.name, tt.wantErr, err)
			continue
		}
		if tt.wantMsg != "" && err.Error() != tt.wantMsg {
			t.Errorf("Add(%q): message %q, want %q", tt.name, err.Error(), tt.wantMsg)
		}
	}

	if names := trackedNames(t, r); len(names) != 1 {
		t.Errorf("failed adds changed the index: %v", names)
	}
}

func TestRemove(t *testing.T) {
	r := setupTestRepo(t)
	for _, n := range []string{"a.txt", "b.txt", "c.txt"} {
		writeFile(t, r, n, n)
		if err := r.Add(n); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.Remove("b.txt"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if got := strings.Join(trackedNames(t, r), ","); got != "a.txt,c.txt" {
		t.Errorf("tracked = %s, want a.txt,c.txt", got)
	}

	// The working file is untouched
	if _, err := os.Stat(filepath.Join(r.Root(), "b.txt")); err != nil {
		t.Errorf("working file removed: %v", err)
	}

	err := r.Remove("b.txt")
	if !errors.Is(err, ErrNotTracked) {
		t.Fatalf("expected ErrNotTracked, got %v", err)
	}
	if err.Error() != "File b.txt is not tracked" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestCommitAndLog(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "hello")
	if err := r.Add("a.txt"); err != nil {
		t.Fatal(err)
	}

	first := mustCommit(t, r, "GO BEARS! first")
	if first.IsSentinel() {
		t.Fatal("commit returned the sentinel")
	}

	entries, err := r.Log()
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != first || entries[0].Message != "GO BEARS! first" {
		t.Fatalf("unexpected log %+v", entries)
	}

	// Snapshot is independent of later edits
	writeFile(t, r, "a.txt", "changed")
	second := mustCommit(t, r, "GO BEARS! second")
	if second == first {
		t.Fatal("successive commits share an id")
	}

	got, err := r.Show(string(first), "a.txt")
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("first commit content = %q, want hello", got)
	}

	entries, err = r.Log()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID != second || entries[1].ID != first {
		t.Errorf("log not newest first: %+v", entries)
	}
}

func TestCommit_InvalidMessage(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "hello")
	if err := r.Add("a.txt"); err != nil {
		t.Fatal(err)
	}
	first := mustCommit(t, r, "GO BEARS! first")

	_, err := r.Commit("no go bears")
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}

	head, err := r.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head != first {
		t.Errorf("HEAD moved to %s after rejected commit", head)
	}

	next, _ := commitid.Next(first)
	if _, err := os.Stat(layout.New(r.Root()).Commit(next).Dir); !os.IsNotExist(err) {
		t.Error("rejected commit left a directory behind")
	}
}

func TestCommit_VanishedFile(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "hello")
	if err := r.Add("a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(r.Root(), "a.txt")); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Commit("GO BEARS! gone"); err == nil {
		t.Fatal("expected error committing a vanished file")
	}
	head, _ := r.Head()
	if !head.IsSentinel() {
		t.Errorf("HEAD moved to %s", head)
	}

	entries, err := os.ReadDir(layout.New(r.Root()).RepoDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("leftover directory %s", e.Name())
		}
	}
}

func TestCommit_EmptyIndex(t *testing.T) {
	r := setupTestRepo(t)
	id := mustCommit(t, r, "GO BEARS! nothing")

	c, err := snapshot.Open(layout.New(r.Root()), id)
	if err != nil {
		t.Fatal(err)
	}
	files, err := c.Files()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
}

func TestCommit_Locked(t *testing.T) {
	r := setupTestRepo(t)
	r.cfg.LockTimeout = 50 * time.Millisecond

	held, err := lock.Acquire(layout.New(r.Root()).LockPath(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	if _, err := r.Commit("GO BEARS! blocked"); !errors.Is(err, lock.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	head, _ := r.Head()
	if !head.IsSentinel() {
		t.Errorf("HEAD moved to %s while locked", head)
	}
}

func TestStatus_Changed(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "same.txt", "same")
	writeFile(t, r, "edit.txt", "before")
	writeFile(t, r, "gone.txt", "gone")
	for _, n := range []string{"same.txt", "edit.txt", "gone.txt"} {
		if err := r.Add(n); err != nil {
			t.Fatal(err)
		}
	}

	res, err := r.Status(true)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range res.Entries {
		if e.State != status.StateAdded {
			t.Errorf("%s before first commit: %s, want added", e.Name, e.State)
		}
	}

	mustCommit(t, r, "GO BEARS! base")
	writeFile(t, r, "edit.txt", "after the edit")
	writeFile(t, r, "new.txt", "new")
	if err := r.Add("new.txt"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(r.Root(), "gone.txt")); err != nil {
		t.Fatal(err)
	}

	res, err = r.Status(true)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]status.State{
		"same.txt": status.StateUnchanged,
		"edit.txt": status.StateModified,
		"gone.txt": status.StateDeleted,
		"new.txt":  status.StateAdded,
	}
	if len(res.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(res.Entries))
	}
	for _, e := range res.Entries {
		if e.State != want[e.Name] {
			t.Errorf("%s: state %s, want %s", e.Name, e.State, want[e.Name])
		}
	}
}

func TestStatus_Output(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "a")
	writeFile(t, r, "b.txt", "b")
	r.Add("a.txt")
	r.Add("b.txt")

	res, err := r.Status(false)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := status.WriteOutput(&buf, res, status.FormatDefault); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "Tracked Files:\na.txt\nb.txt\n" {
		t.Errorf("unexpected status output %q", got)
	}
}

func TestCompressedCommits(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root, quietOptions())
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	cfg := config.Default()
	cfg.Compression = config.CompressionZstd
	if err := cfg.Save(layout.New(root).ConfigPath()); err != nil {
		t.Fatal(err)
	}
	r, err = Open(root, quietOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	content := strings.Repeat("GO BEARS! ", 500)
	writeFile(t, r, "big.txt", content)
	if err := r.Add("big.txt"); err != nil {
		t.Fatal(err)
	}
	id := mustCommit(t, r, "GO BEARS! compressed")

	got, err := r.Show("HEAD", "big.txt")
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if string(got) != content {
		t.Error("decompressed content differs")
	}

	results, err := r.Verify(string(id))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Errorf("verify reported %+v", results)
	}
}

func TestResolve(t *testing.T) {
	r := setupTestRepo(t)

	if _, err := r.Resolve("HEAD"); !errors.Is(err, snapshot.ErrNoSuchCommit) {
		t.Errorf("HEAD with no commits: expected ErrNoSuchCommit, got %v", err)
	}

	first := mustCommit(t, r, "GO BEARS! 1")
	second := mustCommit(t, r, "GO BEARS! 2")

	tests := []struct {
		ref     string
		want    commitid.ID
		wantErr error
	}{
		{"HEAD", second, nil},
		{string(first), first, nil},
		{string(second)[commitid.Size-6:], second, nil},
		{string(first)[commitid.Size-6:], first, nil},
		{"0", "", commitid.ErrInvalidID},
		{"CCCCCC", "", snapshot.ErrNoSuchCommit},
	}
	for _, tt := range tests {
		got, err := r.Resolve(tt.ref)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve(%q): expected %v, got %v", tt.ref, tt.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", tt.ref, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %s, want %s", tt.ref, got, tt.want)
		}
	}

	// No commit ends in four zeros
	if _, err := r.Resolve(strings.Repeat("0", 4)); err == nil {
		t.Error("expected error for a suffix no commit ends with")
	}
}

func TestVerify_Chain(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "a")
	r.Add("a.txt")
	first := mustCommit(t, r, "GO BEARS! 1")
	mustCommit(t, r, "GO BEARS! 2")

	// Tamper with the first commit's copy
	l := layout.New(r.Root())
	if err := os.WriteFile(l.Commit(first).FilePath("a.txt"), []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}

	results, err := r.Verify("")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("HEAD commit reported corrupt: %v", results[0].Err)
	}
	if results[1].ID != first || !errors.Is(results[1].Err, snapshot.ErrCorrupt) {
		t.Errorf("tampered commit not detected: %+v", results[1])
	}
}

func TestJournal(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "a")
	r.Add("a.txt")
	id := mustCommit(t, r, "GO BEARS! j")
	r.Remove("a.txt")

	entries, err := r.Journal(0)
	if err != nil {
		t.Fatal(err)
	}
	var ops []string
	for _, e := range entries {
		ops = append(ops, string(e.Op))
	}
	if got := strings.Join(ops, ","); got != "remove,commit,add,init" {
		t.Fatalf("journal ops = %s", got)
	}

	commit := entries[1]
	if commit.Op != store.OpCommit || commit.HeadBefore != string(commitid.Sentinel) || commit.HeadAfter != string(id) {
		t.Errorf("unexpected commit entry %+v", commit)
	}

	limited, err := r.Journal(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 entries, got %d", len(limited))
	}
}

func TestWalk_StopsEarly(t *testing.T) {
	r := setupTestRepo(t)
	for i := 0; i < 3; i++ {
		mustCommit(t, r, "GO BEARS!")
	}

	n := 0
	for c, err := range r.Walk() {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if c.ID().IsSentinel() {
			t.Fatal("walk yielded the sentinel")
		}
		break
	}
	if n != 1 {
		t.Errorf("walk yielded %d commits after break", n)
	}

	entries, err := r.Log()
	if err != nil || len(entries) != 3 {
		t.Errorf("Log = %d entries, err %v", len(entries), err)
	}
}

func TestInit_InvalidEnvironmentCreatesNothing(t *testing.T) {
	root := t.TempDir()
	t.Setenv("BEARGIT_COMPRESSION", "bogus")

	if _, err := Init(root, quietOptions()); err == nil {
		t.Fatal("expected Init to reject an unknown compression")
	}
	if _, err := os.Stat(layout.New(root).RepoDir()); !os.IsNotExist(err) {
		t.Fatalf("failed init left %s behind", layout.Dir)
	}

	t.Setenv("BEARGIT_COMPRESSION", "")
	r, err := Init(root, quietOptions())
	if err != nil {
		t.Fatalf("Init after fixing the environment failed: %v", err)
	}
	defer r.Close()
	mustCommit(t, r, "GO BEARS! after retry")
}

func TestInit_RollsBackOnLateFailure(t *testing.T) {
	root := t.TempDir()
	// An unreadable ignore file makes opening the new repository fail
	// after its directory was created
	ignorePath := layout.New(root).IgnorePath()
	if err := os.Mkdir(ignorePath, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := Init(root, quietOptions()); err == nil {
		t.Fatal("expected Init to fail")
	}
	if _, err := os.Stat(layout.New(root).RepoDir()); !os.IsNotExist(err) {
		t.Fatalf("failed init left %s behind", layout.Dir)
	}

	if err := os.Remove(ignorePath); err != nil {
		t.Fatal(err)
	}
	r, err := Init(root, quietOptions())
	if err != nil {
		t.Fatalf("retrying Init failed: %v", err)
	}
	defer r.Close()

	head, err := r.Head()
	if err != nil || head != commitid.Sentinel {
		t.Errorf("Head = %s, %v; want sentinel", head, err)
	}
}

func TestCommit_LeftoverLockFile(t *testing.T) {
	r := setupTestRepo(t)
	r.cfg.LockTimeout = 100 * time.Millisecond

	// Lock file of a process that was killed while holding the lock
	if err := os.WriteFile(layout.New(r.Root()).LockPath(), []byte("999999\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Commit("GO BEARS! after crash"); err != nil {
		t.Fatalf("leftover lock file blocked commit: %v", err)
	}
}

func TestAdd_TrackedButDeleted(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "a")
	if err := r.Add("a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(r.Root(), "a.txt")); err != nil {
		t.Fatal(err)
	}

	err := r.Add("a.txt")
	if !errors.Is(err, ErrAlreadyTracked) {
		t.Fatalf("expected ErrAlreadyTracked, got %v", err)
	}
	if err.Error() != "File a.txt already added" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestResolve_IgnoresOrphan(t *testing.T) {
	r := setupTestRepo(t)
	writeFile(t, r, "a.txt", "a")
	r.Add("a.txt")
	head := mustCommit(t, r, "GO BEARS! 1")

	// Directory left at the next ID by an interrupted commit
	next, err := commitid.Next(head)
	if err != nil {
		t.Fatal(err)
	}
	orphan := layout.New(r.Root()).Commit(next)
	if err := os.MkdirAll(orphan.Dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(orphan.FilePath("a.txt"), []byte("half"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Resolve(string(next)); !errors.Is(err, snapshot.ErrNoSuchCommit) {
		t.Errorf("Resolve(orphan): expected ErrNoSuchCommit, got %v", err)
	}
	if _, err := r.Show(string(next), "a.txt"); !errors.Is(err, snapshot.ErrNoSuchCommit) {
		t.Errorf("Show(orphan): expected ErrNoSuchCommit, got %v", err)
	}
	if _, err := r.Verify(string(next)); !errors.Is(err, snapshot.ErrNoSuchCommit) {
		t.Errorf("Verify(orphan): expected ErrNoSuchCommit, got %v", err)
	}

	// The next commit reclaims the orphan
	if id := mustCommit(t, r, "GO BEARS! 2"); id != next {
		t.Fatalf("commit got %s, want %s", id, next)
	}
	got, err := r.Show(string(next), "a.txt")
	if err != nil || string(got) != "a" {
		t.Errorf("Show after reclaim = %q, %v", got, err)
	}
}
