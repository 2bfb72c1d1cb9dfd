package hoard_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	"hoard-go/internal/checksum"
	hfs "hoard-go/internal/fs"
	"hoard-go/internal/hoard"
	"hoard-go/internal/record"
	"hoard-go/internal/retention"
	"hoard-go/internal/testutil"
)

func boolPtr(b bool) *bool { return &b }

func hourlyOnly(s *hoard.Settings) {
	s.Policy = retention.Policy{
		Tiers:          []retention.Tier{{Name: retention.Hourly, Keep: 2, MaxAge: 24}},
		PreserveTagged: true,
	}
}

func backupNames(t *testing.T, f *fixture, typ record.ItemType, item string) []string {
	t.Helper()
	records, err := f.engine.ListBackups(typ, item)
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	var names []string
	for _, r := range records {
		names = append(names, r.BackupName)
	}
	return names
}

func TestBackup_AppliesRetention(t *testing.T) {
	f := newFixture(t, hourlyOnly)

	b1 := f.backup(t, hoard.BackupRequest{})
	if _, err := f.engine.Tag(context.Background(), hoard.TagRequest{
		Type: record.ItemProject, Item: "app", Backup: b1.Record.BackupName, Tags: []string{"release"},
	}); err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	b2 := f.backup(t, hoard.BackupRequest{})
	b3 := f.backup(t, hoard.BackupRequest{})
	b4 := f.backup(t, hoard.BackupRequest{})

	if b4.Retention == nil || !slices.Equal(b4.Retention.Deleted, []string{b2.Record.BackupName}) {
		t.Errorf("retention report = %+v, want %s deleted", b4.Retention, b2.Record.BackupName)
	}

	want := []string{b4.Record.BackupName, b3.Record.BackupName, b1.Record.BackupName}
	if got := backupNames(t, f, record.ItemProject, "app"); !slices.Equal(got, want) {
		t.Errorf("remaining = %v, want %v", got, want)
	}
	if f.mirror.Has("projects/app", b2.Record.BackupName) || f.mirror.Has("projects/app", record.SidecarName(b2.Record.BackupName)) {
		t.Error("retired backup still on the mirror")
	}
	if !f.mirror.Has("projects/app", b1.Record.BackupName) {
		t.Error("tagged backup removed from the mirror")
	}
}

func TestApplyRetention_DryRun(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})
	f.backup(t, hoard.BackupRequest{})

	// Tighten the policy after the fact through a second engine on the same store.
	strict := hoard.NewEngine(hoard.Settings{
		Root:     f.root,
		Projects: []hoard.Project{{Name: "app", Path: f.src, Enabled: true}},
		Policy:   retention.Policy{Tiers: []retention.Tier{{Name: retention.Hourly, Keep: 1, MaxAge: 24}}},
	}, hoard.Deps{Clock: f.clock, Mirror: f.mirror})

	plan, err := strict.PlanRetention(record.ItemProject, "app")
	if err != nil {
		t.Fatalf("PlanRetention() error = %v", err)
	}
	if len(plan.Keep) != 1 || len(plan.Delete) != 1 {
		t.Fatalf("plan keep=%d delete=%d, want 1 and 1", len(plan.Keep), len(plan.Delete))
	}

	rep, err := strict.ApplyRetention(context.Background(), record.ItemProject, "app", true)
	if err != nil {
		t.Fatalf("ApplyRetention(dry run) error = %v", err)
	}
	if !rep.DryRun || len(rep.Deleted) != 1 {
		t.Errorf("report = %+v", rep)
	}
	if got := backupNames(t, f, record.ItemProject, "app"); len(got) != 2 {
		t.Errorf("dry run deleted backups: %v", got)
	}

	rep, err = strict.ApplyRetention(context.Background(), record.ItemProject, "app", false)
	if err != nil {
		t.Fatalf("ApplyRetention() error = %v", err)
	}
	if rep.BytesRecovered == 0 {
		t.Error("BytesRecovered = 0")
	}
	if got := backupNames(t, f, record.ItemProject, "app"); len(got) != 1 {
		t.Errorf("remaining = %v, want 1", got)
	}
}

func TestVerify_AfterCreation(t *testing.T) {
	f := newFixture(t)
	if err := testutil.InitRepo(f.src); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		typ  record.ItemType
		item string
	}{
		{record.ItemProject, "app"},
		{record.ItemDatabase, "shop"},
		{record.ItemGit, "app"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			res := f.backup(t, hoard.BackupRequest{Type: tt.typ, Item: tt.item})

			v, err := f.engine.Verify(tt.typ, tt.item, res.Record.BackupName)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if v.Outcome != checksum.Valid {
				t.Errorf("Outcome = %s, want valid", v.Outcome)
			}

			testutil.FlipByte(t, res.Record.Path, 0)
			v, err = f.engine.Verify(tt.typ, tt.item, res.Record.BackupName)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if v.Outcome != checksum.Corrupted || v.Expected == v.Actual {
				t.Errorf("after mutation: %+v, want corrupted", v.Result)
			}
		})
	}
}

func TestVerifyAll(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})
	bad := f.backup(t, hoard.BackupRequest{})

	results, err := f.engine.VerifyAll(record.ItemProject, "app")
	if err != nil {
		t.Fatalf("VerifyAll() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	testutil.FlipByte(t, bad.Record.Path, 5)
	results, err = f.engine.VerifyAll(record.ItemProject, "app")
	if !errors.Is(err, hoard.ErrIntegrity) {
		t.Fatalf("error = %v, want ErrIntegrity", err)
	}
	if results[0].Backup != bad.Record.BackupName || results[0].Outcome != checksum.Corrupted {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Outcome != checksum.Valid {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestBackfillChecksums(t *testing.T) {
	f := newFixture(t)
	orphan := f.backup(t, hoard.BackupRequest{})
	legacy := f.backup(t, hoard.BackupRequest{})
	current := f.backup(t, hoard.BackupRequest{})

	if err := os.Remove(record.SidecarPath(orphan.Record.Path)); err != nil {
		t.Fatal(err)
	}
	r, err := record.Load(legacy.Record.Path)
	if err != nil {
		t.Fatal(err)
	}
	r.Checksum = ""
	if err := record.Save(r); err != nil {
		t.Fatal(err)
	}

	rep, err := f.engine.BackfillChecksums(record.ItemProject, "app")
	if err != nil {
		t.Fatalf("BackfillChecksums() error = %v", err)
	}
	if !slices.Equal(rep.Created, []string{orphan.Record.BackupName}) {
		t.Errorf("Created = %v", rep.Created)
	}
	if !slices.Equal(rep.Updated, []string{legacy.Record.BackupName}) {
		t.Errorf("Updated = %v", rep.Updated)
	}

	for _, res := range []*hoard.BackupResult{orphan, legacy, current} {
		v, err := f.engine.Verify(record.ItemProject, "app", res.Record.BackupName)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if v.Outcome != checksum.Valid {
			t.Errorf("%s: Outcome = %s", res.Record.BackupName, v.Outcome)
		}
	}

	created, err := record.Load(orphan.Record.Path)
	if err != nil {
		t.Fatalf("sidecar not created: %v", err)
	}
	if created.ItemName != "app" || created.LastModified == nil {
		t.Errorf("created sidecar = %+v", created)
	}
}

func TestTag(t *testing.T) {
	f := newFixture(t)
	res := f.backup(t, hoard.BackupRequest{})
	name := res.Record.BackupName

	t.Run("merges tags and sets keep forever", func(t *testing.T) {
		desc := "before migration"
		r, err := f.engine.Tag(context.Background(), hoard.TagRequest{
			Type: record.ItemProject, Item: "app", Backup: name,
			Tags: []string{"v2", "release"}, Description: &desc, KeepForever: boolPtr(true),
		})
		if err != nil {
			t.Fatalf("Tag() error = %v", err)
		}
		r, err = f.engine.Tag(context.Background(), hoard.TagRequest{
			Type: record.ItemProject, Item: "app", Backup: name, Tags: []string{"release", "audit"}, Importance: "high",
		})
		if err != nil {
			t.Fatalf("second Tag() error = %v", err)
		}

		loaded, err := record.Load(r.Path)
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"audit", "release", "v2"}; !slices.Equal(loaded.Tags, want) {
			t.Errorf("Tags = %v, want %v", loaded.Tags, want)
		}
		if !loaded.KeepForever || !loaded.Pinned {
			t.Errorf("KeepForever=%v Pinned=%v, want both true", loaded.KeepForever, loaded.Pinned)
		}
		if loaded.Importance != record.ImportanceHigh || loaded.Description != desc {
			t.Errorf("loaded = %+v", loaded)
		}
		if loaded.LastModified == nil {
			t.Error("LastModified not set")
		}
	})

	t.Run("rejects invalid importance", func(t *testing.T) {
		_, err := f.engine.Tag(context.Background(), hoard.TagRequest{
			Type: record.ItemProject, Item: "app", Backup: name, Importance: "urgent",
		})
		if !errors.Is(err, hoard.ErrValidation) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})

	t.Run("missing backup", func(t *testing.T) {
		_, err := f.engine.Tag(context.Background(), hoard.TagRequest{
			Type: record.ItemProject, Item: "app", Backup: "app_19990101_000000_full.tar.gz", Tags: []string{"x"},
		})
		if !errors.Is(err, hoard.ErrPrecondition) {
			t.Errorf("error = %v, want ErrPrecondition", err)
		}
	})

	t.Run("rejected while the item is locked", func(t *testing.T) {
		unlock, err := hfs.FlockLocker{}.Lock(f.engine.ItemDir(record.ItemProject, "app"))
		if err != nil {
			t.Fatalf("Lock() error = %v", err)
		}
		defer unlock()

		_, err = f.engine.Tag(context.Background(), hoard.TagRequest{
			Type: record.ItemProject, Item: "app", Backup: name, Tags: []string{"late"},
		})
		if !errors.Is(err, hoard.ErrPrecondition) {
			t.Fatalf("error = %v, want ErrPrecondition", err)
		}
		loaded, err := record.Load(res.Record.Path)
		if err != nil {
			t.Fatal(err)
		}
		if slices.Contains(loaded.Tags, "late") {
			t.Error("sidecar rewritten while the item was locked")
		}
	})
}

func TestListTagged(t *testing.T) {
	f := newFixture(t)
	p := f.backup(t, hoard.BackupRequest{})
	f.backup(t, hoard.BackupRequest{})
	d := f.backup(t, hoard.BackupRequest{Type: record.ItemDatabase, Item: "shop"})

	for _, req := range []hoard.TagRequest{
		{Type: record.ItemProject, Item: "app", Backup: p.Record.BackupName, Tags: []string{"release"}},
		{Type: record.ItemDatabase, Item: "shop", Backup: d.Record.BackupName, Importance: "critical"},
	} {
		if _, err := f.engine.Tag(context.Background(), req); err != nil {
			t.Fatalf("Tag() error = %v", err)
		}
	}

	all, err := f.engine.ListTagged(hoard.TagFilter{})
	if err != nil {
		t.Fatalf("ListTagged() error = %v", err)
	}
	if len(all) != 2 || all[0].BackupName != d.Record.BackupName {
		t.Errorf("ListTagged() = %d records, first %v", len(all), all)
	}

	byTag, err := f.engine.ListTagged(hoard.TagFilter{Tag: "release"})
	if err != nil {
		t.Fatalf("ListTagged(tag) error = %v", err)
	}
	if len(byTag) != 1 || byTag[0].BackupName != p.Record.BackupName {
		t.Errorf("ListTagged(release) = %v", byTag)
	}
}

func TestStatusAndSuggest(t *testing.T) {
	f := newFixture(t)
	f.backup(t, hoard.BackupRequest{})
	f.backup(t, hoard.BackupRequest{})
	last := f.backup(t, hoard.BackupRequest{})
	f.backup(t, hoard.BackupRequest{Complete: true})

	st, err := f.engine.Status(record.ItemProject, "app")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Count != 4 || st.TotalSize == 0 {
		t.Errorf("status = %+v", st)
	}
	if st.Latest == nil || st.Latest.BackupName != last.Record.BackupName {
		t.Errorf("Latest = %v, want %s", st.Latest, last.Record.BackupName)
	}
	if st.Distribution[retention.Hourly] != 3 {
		t.Errorf("Distribution = %v, want 3 hourly", st.Distribution)
	}

	s, err := f.engine.SuggestRetention(record.ItemProject, "app")
	if err != nil {
		t.Fatalf("SuggestRetention() error = %v", err)
	}
	if len(s.Tiers) == 0 || s.Tiers[0].Name != retention.Hourly {
		t.Errorf("suggested tiers = %+v, want hourly first", s.Tiers)
	}
	if got := backupNames(t, f, record.ItemProject, "app"); len(got) != 4 {
		t.Errorf("Suggest mutated the store: %v", got)
	}

	if _, err := f.engine.SuggestRetention(record.ItemDatabase, "shop"); !errors.Is(err, hoard.ErrPrecondition) {
		t.Errorf("SuggestRetention(no backups) error = %v, want ErrPrecondition", err)
	}
}
