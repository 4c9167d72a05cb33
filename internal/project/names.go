package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

var ErrInvalidVideoID = errors.New("invalid video id")

// ValidateName checks a single path element used as a project name or a
// video file name: non-empty, no separators, no traversal, no control
// characters and not hidden.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("name %q must not start with a dot", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name %q contains control characters", name)
		}
	}
	return nil
}

// ValidateVideoID checks that id names a file directly inside the video
// folder. Ids arrive from HTTP paths and CLI arguments.
func ValidateVideoID(id string) error {
	if err := ValidateName(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVideoID, err)
	}
	return nil
}

// validateFolder checks a manifest folder setting. Empty selects the
// default; anything else must stay inside the project root.
func validateFolder(folder string) error {
	if folder == "" {
		return nil
	}
	if !filepath.IsLocal(folder) {
		return fmt.Errorf("folder %q must be a relative path inside the project", folder)
	}
	return nil
}

// ValidateDir checks that dir is a clean path to an existing directory.
func ValidateDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("path is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("path cannot contain path traversal")
		}
	}

	if filepath.Clean(dir) != dir {
		return fmt.Errorf("path must be clean")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path does not exist")
		}
		return fmt.Errorf("invalid path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory")
	}
	return nil
}
