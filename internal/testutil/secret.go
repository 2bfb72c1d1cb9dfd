package testutil

import (
	"hoard-go/internal/hoard"
	"hoard-go/internal/secret"
)

// NewTestSecretBox returns a SecretBox that needs no key material.
func NewTestSecretBox() hoard.SecretBox {
	return secret.NewTestBox()
}
