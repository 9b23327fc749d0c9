package archive

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

// PathEvaluator resolves the paths to archive.
type PathEvaluator struct {
	logger       log.Logger
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
}

// NewPathEvaluator ...
func NewPathEvaluator(logger log.Logger, pathModifier pathutil.PathModifier, pathChecker pathutil.PathChecker) *PathEvaluator {
	return &PathEvaluator{
		logger:       logger,
		pathModifier: pathModifier,
		pathChecker:  pathChecker,
	}
}

// Evaluate expands ~, env vars and doublestar wildcards in paths and returns the absolute
// paths that exist. Patterns without a match and missing paths are skipped with a warning.
// Duplicates and paths inside another returned directory are dropped, so every file
// is archived once.
func (e *PathEvaluator) Evaluate(paths []string) ([]string, error) {
	var expandedPaths []string
	for _, path := range paths {
		if !strings.Contains(path, "*") {
			expandedPaths = append(expandedPaths, path)
			continue
		}

		base, pattern := doublestar.SplitPattern(path)
		absBase, err := e.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			e.logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if len(matches) == 0 {
			e.logger.Warnf("No match for path pattern: %s", path)
			continue
		}

		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(base, match))
		}
	}

	var finalPaths []string
	for _, path := range expandedPaths {
		absPath, err := e.pathModifier.AbsPath(path)
		if err != nil {
			e.logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}

		exists, err := e.pathChecker.IsPathExists(absPath)
		if err != nil {
			e.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			e.logger.Warnf("Path doesn't exist: %s", path)
			continue
		}

		finalPaths = append(finalPaths, absPath)
	}

	return e.removeOverlapping(finalPaths), nil
}

func (e *PathEvaluator) removeOverlapping(paths []string) []string {
	var kept []string
	for i, path := range paths {
		if parent := coveringPath(path, paths[:i], paths[i+1:]); parent != "" {
			e.logger.Debugf("Skipping %s, already included by %s", path, parent)
			continue
		}
		kept = append(kept, path)
	}
	return kept
}

// coveringPath returns an earlier equal path or any ancestor of path, if there is one.
func coveringPath(path string, before, after []string) string {
	for _, other := range before {
		if other == path || isAncestor(other, path) {
			return other
		}
	}
	for _, other := range after {
		if isAncestor(other, path) {
			return other
		}
	}
	return ""
}

func isAncestor(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// AreAllPathsEmpty checks if the provided paths are all nonexistent files or empty directories
func AreAllPathsEmpty(includePaths []string) bool {
	for _, path := range includePaths {
		fileInfo, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false
		}
		if !fileInfo.IsDir() {
			return false
		}

		if !isDirEmpty(path) {
			return false
		}
	}

	return true
}

func isDirEmpty(path string) bool {
	dir, err := os.Open(path)
	if err != nil {
		return true
	}
	defer dir.Close() //nolint:errcheck

	_, err = dir.Readdirnames(1) // query only 1 child
	return errors.Is(err, io.EOF)
}
