package vexfswalk

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
)

// MaxWorkers bounds the worker pool used for concurrent filesystem scans
// (refresh_active, restore_session), per §5: each worker only mutates its
// own output slot and appends to shared output under its own index, never
// sharing mutable state across workers.
const MaxWorkers = 8

// Entry describes one path discovered by Walk.
type Entry struct {
	RepoPath string
	IsDir    bool
}

// Walk recursively lists every path under root (a real filesystem
// directory), relative to root using "/"-separated repo paths, filtered
// by globs. Ignored directories are not descended into at all, following
// the teacher's own gitignore-noder idiom of pruning whole ignored
// subtrees instead of filtering their contents after the fact.
func Walk(root string, globs Globs) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		repoPath := filepath.ToSlash(rel)
		if !globs.Included(repoPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, Entry{RepoPath: repoPath, IsDir: d.IsDir()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RepoPath < entries[j].RepoPath })
	return entries, nil
}

// StatResult is one path's filesystem fingerprint, as gathered by
// StatAll.
type StatResult struct {
	RepoPath string
	Info     os.FileInfo // nil if the path is missing
	Err      error
}

// StatAll stats every repo path in repoPaths concurrently (each resolved
// to a filesystem path through fullPath), bounded at MaxWorkers in
// flight, and returns one StatResult per input path in the same order. Each goroutine writes only to its own output
// slot, so no shared-mutation synchronisation is needed beyond the
// errgroup itself.
func StatAll(repoPaths []string, fullPath func(repoPath string) string) []StatResult {
	results := make([]StatResult, len(repoPaths))
	var g errgroup.Group
	g.SetLimit(MaxWorkers)
	for i, rp := range repoPaths {
		i, rp := i, rp
		g.Go(func() error {
			info, err := os.Lstat(fullPath(rp))
			results[i] = StatResult{RepoPath: rp, Info: info, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
