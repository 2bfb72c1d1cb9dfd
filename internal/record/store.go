package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	hfs "hoard-go/internal/fs"
)

// ErrNoSidecar is returned by Load when an artifact has no metadata file.
var ErrNoSidecar = errors.New("metadata sidecar not found")

// SidecarPath returns the metadata path for an artifact path.
func SidecarPath(artifactPath string) string {
	return filepath.Join(filepath.Dir(artifactPath), SidecarName(filepath.Base(artifactPath)))
}

// Load reads the sidecar belonging to the artifact at artifactPath.
func Load(artifactPath string) (*Record, error) {
	data, err := os.ReadFile(SidecarPath(artifactPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSidecar, SidecarName(filepath.Base(artifactPath)))
		}
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding metadata %s: %w", SidecarName(filepath.Base(artifactPath)), err)
	}
	r.Path = artifactPath
	if r.BackupName == "" {
		r.BackupName = filepath.Base(artifactPath)
	}
	return &r, nil
}

// Save atomically writes the sidecar for r next to r.Path.
func Save(r *Record) error {
	if r.Path == "" {
		return fmt.Errorf("record %s has no artifact path", r.BackupName)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	data = append(data, '\n')
	if _, err := hfs.WriteFileAtomic(SidecarPath(r.Path), bytes.NewReader(data), int64(len(data)), 0644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// Synthesize builds a record for an artifact that has no sidecar, using the
// filename timestamp when available and the file mtime otherwise. The result
// carries no checksum.
func Synthesize(itemType ItemType, artifactPath string) (*Record, error) {
	info, err := os.Stat(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", artifactPath, err)
	}
	name := filepath.Base(artifactPath)
	ts := info.ModTime()
	kind := KindFull
	item := ""
	if p, ok := ParseName(name, time.Local); ok {
		item = p.Item
		kind = p.Kind
		if !p.Timestamp.IsZero() {
			ts = p.Timestamp
		}
	}
	r := New(itemType, item, name, kind, ts)
	r.CreatedBy = ""
	r.SetSize(info.Size())
	r.Path = artifactPath
	return r, nil
}

// Artifacts lists the artifact files in dir, skipping symlinks, sidecars,
// hidden files and temporaries.
func Artifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !e.Type().IsRegular() || Ext(name) == "" {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths, nil
}

// Scan loads every artifact's record in dir, newest first. Artifacts without
// a readable sidecar get a synthesized record, with MetadataErr set when the
// sidecar exists but is damaged.
func Scan(itemType ItemType, dir string) ([]*Record, error) {
	paths, err := Artifacts(dir)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(paths))
	for _, p := range paths {
		r, err := Load(p)
		if err != nil {
			loadErr := err
			r, err = Synthesize(itemType, p)
			if err != nil {
				return nil, err
			}
			if !errors.Is(loadErr, ErrNoSidecar) {
				r.MetadataErr = loadErr
			}
		}
		if info, err := os.Stat(p); err == nil && r.SizeBytes == 0 {
			r.SetSize(info.Size())
		}
		records = append(records, r)
	}
	SortNewestFirst(records)
	return records, nil
}

// SortNewestFirst orders records by timestamp descending, then name descending.
func SortNewestFirst(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].BackupName > records[j].BackupName
	})
}

// Remove deletes an artifact together with its sidecar.
func Remove(artifactPath string) error {
	if err := os.Remove(artifactPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", filepath.Base(artifactPath), err)
	}
	if err := os.Remove(SidecarPath(artifactPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing metadata for %s: %w", filepath.Base(artifactPath), err)
	}
	return nil
}
