// Package security validates paths and content obtained from outside the
// process before they are read or executed.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// dangerousChars are shell metacharacters rejected in paths.
var dangerousChars = []string{";", "&", "|", "$", "`", "(", ")", "{", "}", "<", ">", "!", "\n", "\r"}

// ValidateFilePath cleans path, makes it absolute and resolves symlinks.
// Paths that do not exist yet are returned cleaned.
func ValidateFilePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}
	if err := checkChars(path, dangerousChars); err != nil {
		return "", err
	}

	cleanPath, err := absolute(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cleanPath, nil
		}
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}
	return resolved, nil
}

// ValidateFilePathInDir is ValidateFilePath plus a check that the result
// stays inside baseDir.
func ValidateFilePathInDir(path, baseDir string) (string, error) {
	if baseDir == "" {
		return "", fmt.Errorf("base directory cannot be empty")
	}
	cleanPath, err := ValidateFilePath(path)
	if err != nil {
		return "", err
	}

	base, err := absolute(baseDir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	if cleanPath != base && !strings.HasPrefix(cleanPath, base+string(filepath.Separator)) {
		return "", fmt.Errorf("file path escapes base directory: %s is not within %s", path, baseDir)
	}
	return cleanPath, nil
}

// ValidateExecutable checks a plugin binary path before it is executed. The
// path must be absolute and name a regular file.
func ValidateExecutable(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("binary path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("binary path must be absolute: %s", path)
	}
	if err := checkChars(path, append([]string{"\\", "'", "\""}, dangerousChars...)); err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve binary path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("binary not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("binary path is not a regular file: %s", path)
	}
	return resolved, nil
}

// SafeReadFile is os.ReadFile after ValidateFilePath.
func SafeReadFile(path string) ([]byte, error) {
	cleanPath, err := ValidateFilePath(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 - path is validated above
	return os.ReadFile(cleanPath)
}

// SafeReadFileInDir is os.ReadFile after ValidateFilePathInDir.
func SafeReadFileInDir(path, baseDir string) ([]byte, error) {
	cleanPath, err := ValidateFilePathInDir(path, baseDir)
	if err != nil {
		return nil, err
	}
	// #nosec G304 - path is validated above
	return os.ReadFile(cleanPath)
}

// SafeOpen is os.Open after ValidateFilePath.
func SafeOpen(path string) (*os.File, error) {
	cleanPath, err := ValidateFilePath(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 - path is validated above
	return os.Open(cleanPath)
}

func checkChars(path string, forbidden []string) error {
	for _, char := range forbidden {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains forbidden character %q: %s", char, path)
		}
	}
	return nil
}

func absolute(path string) (string, error) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return filepath.Join(cwd, clean), nil
}
