package config

import (
	"errors"
	"fmt"

	"hoard-go/internal/record"
)

// Validate checks item identifiers, duplicates, required fields, retention
// tiers and the mirror type. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.LocalRoot == "" {
		errs = append(errs, fmt.Errorf("storage.local_root is required"))
	}
	if c.System.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("system.max_parallel must not be negative"))
	}

	seen := make(map[string]bool)
	for _, p := range c.Projects {
		if err := record.ValidateIdentifier(p.Name); err != nil {
			errs = append(errs, fmt.Errorf("project: %w", err))
			continue
		}
		if seen["p/"+p.Name] {
			errs = append(errs, fmt.Errorf("project %s defined twice", p.Name))
		}
		seen["p/"+p.Name] = true
		if p.Path == "" {
			errs = append(errs, fmt.Errorf("project %s: path is required", p.Name))
		}
		if p.RetentionDays < 0 {
			errs = append(errs, fmt.Errorf("project %s: retention_days must not be negative", p.Name))
		}
	}
	for _, d := range c.Databases {
		if err := record.ValidateIdentifier(d.Name); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
			continue
		}
		if seen["d/"+d.Name] {
			errs = append(errs, fmt.Errorf("database %s defined twice", d.Name))
		}
		seen["d/"+d.Name] = true
		if d.User == "" {
			errs = append(errs, fmt.Errorf("database %s: user is required", d.Name))
		}
		if d.Port <= 0 || d.Port > 65535 {
			errs = append(errs, fmt.Errorf("database %s: invalid port %d", d.Name, d.Port))
		}
	}
	for _, p := range c.Projects {
		for _, db := range p.Databases {
			if !seen["d/"+db] {
				errs = append(errs, fmt.Errorf("project %s references unknown database %s", p.Name, db))
			}
		}
	}

	if err := c.Retention.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	switch c.Mirror.Type {
	case "", "memory":
	case "filesystem":
		if c.Mirror.Root == "" {
			errs = append(errs, fmt.Errorf("filesystem mirror requires root to be set"))
		}
	case "s3":
		if c.Mirror.S3Bucket == "" {
			errs = append(errs, fmt.Errorf("s3 mirror requires s3_bucket to be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mirror type: %s", c.Mirror.Type))
	}

	switch c.History.Type {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown history type: %s", c.History.Type))
	}

	return errors.Join(errs...)
}
