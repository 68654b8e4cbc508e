package util

import (
	"os"
	"path/filepath"
)

// FindGitRoot finds the root of the git repository containing dir.
// Returns dir itself if no .git is found on the way up.
func FindGitRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for cur := abs; ; {
		if _, err := os.Stat(filepath.Join(cur, ".git")); err == nil {
			return cur, nil
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			// Reached root
			return abs, nil
		}
		cur = parent
	}
}
