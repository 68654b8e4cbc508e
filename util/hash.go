package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// NodeKey creates a deterministic identity key for a graph node from its
// identity tuple (for example name, file path and start line).
func NodeKey(parts ...any) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprint(p)
	}
	hash := sha256.Sum256([]byte(strings.Join(strs, "\x1f")))
	return hex.EncodeToString(hash[:])
}

// ContentHash returns the sha256 of a file's bytes, used for change detection.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
