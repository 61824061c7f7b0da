// Package gitmeta derives a session's git repository path and current
// branch from its working directory, used to populate the session's
// git fields at create time and to feed the title tracker's
// {sessionName, cwd, gitBranch} synthesis. It is a narrow, read-only
// walk of .git/HEAD; no git client involved.
package gitmeta

import (
	"os"
	"path/filepath"
	"strings"
)

// Info is the git metadata derived from a working directory.
type Info struct {
	RepoPath string
	Branch   string
}

// Lookup walks up from dir looking for a .git entry. It returns an empty
// Info (no error) when dir is not inside a git repository; lookups are
// best-effort and must never block session creation.
func Lookup(dir string) Info {
	gitDir, repoPath, ok := findGitDir(dir)
	if !ok {
		return Info{}
	}
	return Info{RepoPath: repoPath, Branch: readBranch(gitDir)}
}

func findGitDir(start string) (gitDir, repoPath string, ok bool) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".git")
		if fi, err := os.Stat(candidate); err == nil {
			if fi.IsDir() {
				return candidate, dir, true
			}
			// A worktree or submodule: .git is a file containing
			// "gitdir: <path>".
			if resolved, ok := readGitdirFile(candidate); ok {
				return resolved, dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", false
		}
		dir = parent
	}
}

func readGitdirFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(data))
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
}

func readBranch(gitDir string) string {
	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(data))
	const prefix = "ref: refs/heads/"
	if strings.HasPrefix(line, prefix) {
		return strings.TrimPrefix(line, prefix)
	}
	if len(line) >= 7 {
		// Detached HEAD: short commit sha.
		return line[:7]
	}
	return ""
}
