package server

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentd-dev/agentd/pkg/types"
)

// findFilesLimit caps /find/files responses.
const findFilesLimit = 100

// findSkipDirs are pruned from the search walk.
var findSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"target":       true,
	"__pycache__":  true,
}

// readFile returns one file's content from the current worktree.
// GET /file?path=…
func (s *Server) readFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeBadRequest(w, "path required")
		return
	}

	root := getDirectory(r.Context())
	if p, err := s.currentProject(r); err == nil {
		root = p.Worktree
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	// Keep reads inside the worktree.
	resolved, err := filepath.Abs(path)
	if err != nil || !strings.HasPrefix(resolved+string(filepath.Separator), filepath.Clean(root)+string(filepath.Separator)) {
		writeError(w, types.NewError(types.ErrorPermissionDenied, "path escapes the worktree"))
		return
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		writeError(w, types.NewError(types.ErrorNotFound, "file not found: "+path))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"type":    "raw",
		"content": string(data),
	})
}

// findFiles returns worktree-relative paths containing the query,
// shortest first. GET /find/files?query=…
func (s *Server) findFiles(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(r.URL.Query().Get("query"))

	root := getDirectory(r.Context())
	if p, err := s.currentProject(r); err == nil {
		root = p.Worktree
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if findSkipDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if query == "" || strings.Contains(strings.ToLower(rel), query) {
			matches = append(matches, rel)
			if len(matches) >= findFilesLimit {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i]) != len(matches[j]) {
			return len(matches[i]) < len(matches[j])
		}
		return matches[i] < matches[j]
	})
	if matches == nil {
		matches = []string{}
	}
	writeJSON(w, http.StatusOK, matches)
}
