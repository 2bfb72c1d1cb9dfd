// Package secret seals database passwords stored in the config file.
package secret

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"hoard-go/internal/hoard"
)

// AgeBox implements hoard.SecretBox with an X25519 age identity kept in a
// 0600 key file. Sealed values are "enc:" followed by base64 ciphertext.
type AgeBox struct {
	keyPath string
}

var _ hoard.SecretBox = (*AgeBox)(nil)

func NewAgeBox(keyPath string) *AgeBox {
	return &AgeBox{keyPath: keyPath}
}

// Setup generates a new identity and writes it to the key file.
func (b *AgeBox) Setup() error {
	if b.IsConfigured() {
		return fmt.Errorf("key file already exists at %s", b.keyPath)
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.keyPath), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	content := "# public key: " + identity.Recipient().String() + "\n" + identity.String() + "\n"
	f, err := os.OpenFile(b.keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	if _, err := io.WriteString(f, content); err != nil {
		f.Close()
		os.Remove(b.keyPath)
		return fmt.Errorf("writing key file: %w", err)
	}
	return f.Close()
}

func (b *AgeBox) IsConfigured() bool {
	_, err := os.Stat(b.keyPath)
	return err == nil
}

func (b *AgeBox) Seal(plaintext string) (string, error) {
	identity, err := b.loadIdentity()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("encrypting secret: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	return hoard.SecretPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (b *AgeBox) Open(value string) (string, error) {
	if !hoard.IsSealed(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, hoard.SecretPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding sealed secret: %w", err)
	}
	identity, err := b.loadIdentity()
	if err != nil {
		return "", err
	}

	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return "", fmt.Errorf("decrypting secret: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted secret: %w", err)
	}
	return string(plain), nil
}

// loadIdentity reads the identity from the key file.
func (b *AgeBox) loadIdentity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(b.keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity found in %s", b.keyPath)
}
