package ciutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// GoModFile marks the project root.
const GoModFile = "go.mod"

// maxTraversal bounds the upward directory search.
const maxTraversal = 10

// Project root detection errors.
var (
	ErrProjectRootNotFound = errors.New("unable to find project root")
	ErrInvalidProjectRoot  = errors.New("invalid project root: no go.mod file found")
)

// FindProjectRoot returns the absolute path of the project root. Sources are
// checked in order:
//
//  1. SCRY_BATCH_PROJECT_ROOT
//  2. GITHUB_WORKSPACE under GitHub Actions
//  3. CI_PROJECT_DIR under GitLab CI
//  4. the nearest ancestor of the working directory holding a go.mod
func FindProjectRoot(logger *slog.Logger) (string, error) {
	candidates := []struct {
		source string
		dir    string
		active bool
	}{
		{EnvProjectRoot, os.Getenv(EnvProjectRoot), os.Getenv(EnvProjectRoot) != ""},
		{EnvGitHubWorkspace, os.Getenv(EnvGitHubWorkspace), IsGitHubActions()},
		{EnvGitLabProjectDir, os.Getenv(EnvGitLabProjectDir), IsGitLabCI()},
	}
	for _, c := range candidates {
		if !c.active {
			continue
		}
		if !isValidProjectRoot(c.dir) {
			return "", fmt.Errorf("%w at %s (from %s)", ErrInvalidProjectRoot, c.dir, c.source)
		}
		logger.Debug("project root from environment", "source", c.source, "project_root", c.dir)
		return filepath.Abs(c.dir)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return FindProjectRootFrom(workingDir, logger)
}

// FindProjectRootFrom walks up from startDir to the first directory
// containing a go.mod.
func FindProjectRootFrom(startDir string, logger *slog.Logger) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for i := 0; i < maxTraversal; i++ {
		if fileExists(filepath.Join(dir, GoModFile)) {
			logger.Debug("found project root", "project_root", dir, "iterations", i+1)
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("%w from %s", ErrProjectRootNotFound, startDir)
}

func isValidProjectRoot(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	return fileExists(filepath.Join(dir, GoModFile))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
