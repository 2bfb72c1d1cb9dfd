// Package checksum computes and verifies SHA-256 digests of backup artifacts.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ChunkSize is the fixed read size used when streaming a file through the hash.
const ChunkSize = 64 * 1024

// Outcome classifies a verification result.
type Outcome int

const (
	// Unverifiable means there was no expected digest to compare against.
	Unverifiable Outcome = iota
	Valid
	Corrupted
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Corrupted:
		return "corrupted"
	default:
		return "unverifiable"
	}
}

// Result is the outcome of verifying one artifact.
type Result struct {
	Outcome  Outcome
	Expected string
	Actual   string
}

// Message renders the result for users, including both digests on mismatch.
func (r Result) Message() string {
	switch r.Outcome {
	case Valid:
		return "checksum matches"
	case Corrupted:
		return fmt.Sprintf("checksum mismatch: expected %s, actual %s", r.Expected, r.Actual)
	default:
		return "no checksum recorded"
	}
}

// Compute returns the hex SHA-256 digest of the file at path.
func Compute(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Reader(f)
}

// Reader returns the hex SHA-256 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hashing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the digest of path and compares it with expected.
// An empty expected digest yields Unverifiable without reading the file.
func Verify(path, expected string) (Result, error) {
	if expected == "" {
		return Result{Outcome: Unverifiable}, nil
	}
	actual, err := Compute(path)
	if err != nil {
		return Result{}, err
	}
	res := Result{Expected: expected, Actual: actual, Outcome: Valid}
	if actual != expected {
		res.Outcome = Corrupted
	}
	return res, nil
}
