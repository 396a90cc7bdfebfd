// Package project resolves working directories to projects. A project is
// keyed by the root commit of its git history, so the ID survives moves of
// the worktree; directories outside version control share the "global"
// project.
package project

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// GlobalID is the project for directories outside version control.
const GlobalID = "global"

// idCacheFile is written inside the git dir so repeated opens skip the
// rev-list walk.
const idCacheFile = "agentd"

type detection struct {
	id       string
	worktree string
	vcs      string
}

var (
	cacheMu sync.RWMutex
	cache   = map[string]detection{} // absolute directory -> detection
)

// detect maps a directory to its project identity.
func detect(directory string) (detection, error) {
	directory, err := filepath.Abs(directory)
	if err != nil {
		return detection{}, err
	}

	cacheMu.RLock()
	if d, ok := cache[directory]; ok {
		cacheMu.RUnlock()
		return d, nil
	}
	cacheMu.RUnlock()

	d := detectGit(directory)
	if d.id == "" {
		d = detection{id: GlobalID, worktree: directory}
	}

	cacheMu.Lock()
	cache[directory] = d
	cacheMu.Unlock()
	return d, nil
}

func detectGit(directory string) detection {
	gitDir := findGitDir(directory)
	if gitDir == "" {
		return detection{}
	}

	worktree := filepath.Dir(gitDir)
	if out, err := gitOutput(worktree, "rev-parse", "--show-toplevel"); err == nil {
		worktree = out
	}
	// Resolve the real git dir; linked worktrees point elsewhere.
	if out, err := gitOutput(worktree, "rev-parse", "--git-dir"); err == nil {
		if !filepath.IsAbs(out) {
			out = filepath.Join(worktree, out)
		}
		gitDir = out
	}

	cachePath := filepath.Join(gitDir, idCacheFile)
	if data, err := os.ReadFile(cachePath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return detection{id: id, worktree: worktree, vcs: "git"}
		}
	}

	id := rootCommit(worktree)
	if id == "" {
		// A repo with no commits yet still gets the global project; the ID
		// would change on first commit otherwise.
		return detection{}
	}
	_ = os.WriteFile(cachePath, []byte(id), 0644)
	return detection{id: id, worktree: worktree, vcs: "git"}
}

// rootCommit returns the lexically first root commit of the repository.
// Sorting makes the pick stable when history has several roots.
func rootCommit(worktree string) string {
	out, err := gitOutput(worktree, "rev-list", "--max-parents=0", "--all")
	if err != nil {
		return ""
	}
	var roots []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			roots = append(roots, line)
		}
	}
	if len(roots) == 0 {
		return ""
	}
	sort.Strings(roots)
	return roots[0]
}

// findGitDir walks up from start looking for .git. A .git file (linked
// worktree, submodule) is followed to the directory it names.
func findGitDir(start string) string {
	current := start
	for {
		gitPath := filepath.Join(current, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() {
				return gitPath
			}
			if content, err := os.ReadFile(gitPath); err == nil {
				line := strings.TrimSpace(string(content))
				if target, ok := strings.CutPrefix(line, "gitdir: "); ok {
					if !filepath.IsAbs(target) {
						target = filepath.Join(current, target)
					}
					return target
				}
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ClearCache drops the directory cache.
func ClearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = map[string]detection{}
}
