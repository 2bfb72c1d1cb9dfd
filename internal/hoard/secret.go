package hoard

import "strings"

// SecretPrefix marks a config value as encrypted.
const SecretPrefix = "enc:"

// IsSealed reports whether value carries the encrypted prefix.
func IsSealed(value string) bool { return strings.HasPrefix(value, SecretPrefix) }

// SecretBox encrypts short secrets, such as database passwords, for storage
// in the config file.
type SecretBox interface {
	// Setup creates the key material. It fails if a key already exists.
	Setup() error

	// Seal encrypts plaintext and returns it with SecretPrefix.
	Seal(plaintext string) (string, error)

	// Open decrypts a sealed value. Values without SecretPrefix are
	// returned unchanged.
	Open(value string) (string, error)

	// IsConfigured reports whether key material exists.
	IsConfigured() bool
}
