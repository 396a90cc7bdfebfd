package watcher

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/agentd-dev/agentd/pkg/types"
)

// diffFile computes one file's diff record between its baseline and
// current content.
func diffFile(relPath, before, after string) types.FileDiff {
	fd := types.FileDiff{Path: relPath}
	if before == after {
		return fd
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			fd.Additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			fd.Deletions += countLines(d.Text)
		}
	}

	patch := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if patch != "" {
		fd.Diff = fmt.Sprintf("--- %s\n+++ %s\n%s", relPath, relPath, patch)
	}
	return fd
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
