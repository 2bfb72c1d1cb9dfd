package secret

import (
	"fmt"
	"strings"

	"hoard-go/internal/hoard"
)

// testMarker follows SecretPrefix in values sealed by TestBox.
const testMarker = "test:"

// TestBox is a deterministic, reversible SecretBox for tests. It needs no
// key material: the plaintext is stored reversed behind a fixed marker.
type TestBox struct{}

var _ hoard.SecretBox = TestBox{}

func NewTestBox() TestBox { return TestBox{} }

func (TestBox) Setup() error       { return nil }
func (TestBox) IsConfigured() bool { return true }

func (TestBox) Seal(plaintext string) (string, error) {
	return hoard.SecretPrefix + testMarker + reverse(plaintext), nil
}

func (TestBox) Open(value string) (string, error) {
	if !hoard.IsSealed(value) {
		return value, nil
	}
	body := strings.TrimPrefix(value, hoard.SecretPrefix)
	if !strings.HasPrefix(body, testMarker) {
		return "", fmt.Errorf("invalid test secret")
	}
	return reverse(strings.TrimPrefix(body, testMarker)), nil
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
