package secret

import (
	"fmt"

	"hoard-go/internal/config"
	"hoard-go/internal/hoard"
)

// NewSecretBoxFromConfig creates a SecretBox based on the configuration type.
func NewSecretBoxFromConfig(cfg config.SecretConfig) (hoard.SecretBox, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("age secrets require key_path to be set")
		}
		return NewAgeBox(cfg.KeyPath), nil
	case "test":
		return NewTestBox(), nil
	default:
		return nil, fmt.Errorf("unknown secret type: %q", cfg.Type)
	}
}
