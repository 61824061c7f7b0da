package gitmeta

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookupFindsBranch(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/feature/foo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	info := Lookup(sub)
	if info.RepoPath != dir {
		t.Fatalf("RepoPath = %q, want %q", info.RepoPath, dir)
	}
	if info.Branch != "feature/foo" {
		t.Fatalf("Branch = %q", info.Branch)
	}
}

func TestLookupOutsideRepoReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	info := Lookup(dir)
	if info.RepoPath != "" || info.Branch != "" {
		t.Fatalf("expected empty Info, got %+v", info)
	}
}

func TestLookupDetachedHead(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("abcdef1234567890\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	info := Lookup(dir)
	if info.Branch != "abcdef1" {
		t.Fatalf("Branch = %q, want short sha", info.Branch)
	}
}
