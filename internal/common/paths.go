package common

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanPath returns the absolute, cleaned form of path and rejects paths that
// still traverse upwards after cleaning.
func CleanPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("invalid path: empty")
	}
	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: contains directory traversal")
	}

	if !filepath.IsAbs(cleaned) {
		abs, err := filepath.Abs(cleaned)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		cleaned = abs
	}
	return cleaned, nil
}

// ValidatePath ensures path resolves to baseDir or somewhere below it
func ValidatePath(path, baseDir string) (string, error) {
	cleanedPath, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	cleanedBase, err := CleanPath(baseDir)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(cleanedBase, cleanedPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", path, baseDir)
	}
	return cleanedPath, nil
}

// JoinPath joins elements onto base and verifies the result stays inside base
func JoinPath(base string, elements ...string) (string, error) {
	cleanedBase, err := CleanPath(base)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(append([]string{cleanedBase}, elements...)...)
	return ValidatePath(joined, cleanedBase)
}
