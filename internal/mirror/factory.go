package mirror

import (
	"context"
	"fmt"

	"hoard-go/internal/config"
	"hoard-go/internal/hoard"
)

// NewMirrorFromConfig creates a Mirror implementation based on the mirror
// config type. An empty type means no mirror and returns nil.
func NewMirrorFromConfig(ctx context.Context, cfg config.MirrorConfig) (hoard.Mirror, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryMirror(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 mirror requires s3_bucket to be set")
		}
		return NewS3Mirror(ctx, cfg)
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem mirror requires root to be set")
		}
		return NewFileSystemMirror(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}
