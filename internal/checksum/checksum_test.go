package checksum_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hoard-go/internal/checksum"
	"hoard-go/internal/testutil"
)

// sha256 of "hello world"
const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func writeFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	return path
}

func TestCompute(t *testing.T) {
	path := writeFile(t, []byte("hello world"))
	got, err := checksum.Compute(path)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if got != helloDigest {
		t.Errorf("Compute() = %s, want %s", got, helloDigest)
	}
}

func TestCompute_LargerThanChunk(t *testing.T) {
	data := []byte(strings.Repeat("x", checksum.ChunkSize*3+17))
	path := writeFile(t, data)

	fromFile, err := checksum.Compute(path)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	fromReader, err := checksum.Reader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("Reader() error = %v", err)
	}
	if fromFile != fromReader {
		t.Errorf("file digest %s != reader digest %s", fromFile, fromReader)
	}
	if want := testutil.SHA256Hex(data); fromFile != want {
		t.Errorf("Compute() = %s, want %s", fromFile, want)
	}
}

func TestCompute_MissingFile(t *testing.T) {
	if _, err := checksum.Compute(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		want     checksum.Outcome
	}{
		{name: "valid", content: "hello world", expected: helloDigest, want: checksum.Valid},
		{name: "single byte mutated", content: "hello worle", expected: helloDigest, want: checksum.Corrupted},
		{name: "no expected digest", content: "hello world", expected: "", want: checksum.Unverifiable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, []byte(tt.content))
			res, err := checksum.Verify(path, tt.expected)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %v, want %v", res.Outcome, tt.want)
			}
			if tt.want == checksum.Corrupted {
				if res.Expected != helloDigest || res.Actual == "" || res.Actual == helloDigest {
					t.Errorf("corrupted result should carry both digests, got %+v", res)
				}
				if !strings.Contains(res.Message(), res.Actual) {
					t.Errorf("Message() = %q, want actual digest included", res.Message())
				}
			}
		})
	}
}
