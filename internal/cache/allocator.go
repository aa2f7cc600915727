// Package cache allocates local directory paths for dataset clones.
package cache

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// tokenBytes yields a 40-character hex token when encoded.
	tokenBytes = 20

	// Shard boundaries: aaa/bbb/rest bounds directory fan-out to 4096
	// entries per level.
	shardOneLen = 3
	shardTwoLen = 6

	// maxAttempts bounds collision retries. Collisions require two equal
	// 160-bit random tokens, so hitting this limit indicates a broken
	// entropy source rather than bad luck.
	maxAttempts = 10
)

// ErrExhausted is returned when no collision-free path could be generated.
var ErrExhausted = errors.New("failed to allocate a unique cache path")

// Allocator produces unique relative paths under a base cache directory.
// It needs no global counter or lock: paths are random tokens verified
// against the filesystem, so many workers can allocate concurrently.
type Allocator struct {
	baseDir string
}

// NewAllocator creates an allocator rooted at baseDir.
func NewAllocator(baseDir string) *Allocator {
	return &Allocator{baseDir: baseDir}
}

// BaseDir returns the base cache directory.
func (a *Allocator) BaseDir() string {
	return a.baseDir
}

// Allocate returns a new relative path, sharded aaa/bbb/<rest>, that does not
// exist under the base directory. The caller creates the directory; a path
// returned here that already exists by then is a contract violation.
func (a *Allocator) Allocate() (string, error) {
	for range maxAttempts {
		token, err := randomToken()
		if err != nil {
			return "", fmt.Errorf("failed to generate cache path token: %w", err)
		}

		relative := filepath.Join(token[:shardOneLen], token[shardOneLen:shardTwoLen], token[shardTwoLen:])

		_, statErr := os.Stat(filepath.Join(a.baseDir, relative))
		if statErr == nil {
			// Astronomically rare, but handled: try another token.
			continue
		}
		if !errors.Is(statErr, os.ErrNotExist) {
			return "", fmt.Errorf("failed to probe cache path: %w", statErr)
		}

		return relative, nil
	}

	return "", ErrExhausted
}

// randomToken returns a 40-character lowercase hex token.
func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
