package store

import (
	"bytes"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already migrated; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (keystore + drafts)", result.Version)
	}
}

func TestKVRoundTrip(t *testing.T) {
	db := testDB(t)

	v, err := db.GetKV("missing")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("GetKV(missing) = %v, want nil", v)
	}

	if err := db.PutKV("a", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := db.PutKV("a", []byte("two")); err != nil {
		t.Fatal(err)
	}
	v, err = db.GetKV("a")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("two")) {
		t.Errorf("GetKV(a) = %q, want two", v)
	}

	if err := db.DeleteKV("a", "never-set"); err != nil {
		t.Fatal(err)
	}
	v, _ = db.GetKV("a")
	if v != nil {
		t.Errorf("value survived delete: %q", v)
	}
}

func TestPutKVsWritesTogether(t *testing.T) {
	db := testDB(t)

	if err := db.PutKVs(KV{Key: "session", Value: []byte("s")}, KV{Key: "profile", Value: []byte("p")}); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"session", "profile"} {
		v, err := db.GetKV(k)
		if err != nil {
			t.Fatal(err)
		}
		if v == nil {
			t.Errorf("key %q missing after PutKVs", k)
		}
	}
}

func TestPendingUpsertAndList(t *testing.T) {
	db := testDB(t)

	row := &PendingRow{ID: "p1", Kind: "image", Encrypted: []byte(`{}`), Stage: "uploading"}
	if err := db.UpsertPending(row); err != nil {
		t.Fatal(err)
	}
	row.UploadedRef = "https://cdn/x"
	row.Stage = "uploaded"
	if err := db.UpsertPending(row); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetPending("p1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Stage != "uploaded" || got.UploadedRef != "https://cdn/x" {
		t.Errorf("GetPending = %+v, want uploaded with ref", got)
	}

	all, err := db.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d pending rows, want 1", len(all))
	}

	if err := db.DeletePending("p1"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetPending("p1")
	if got != nil {
		t.Error("pending row survived delete")
	}
}

func TestDraftsAcrossTribes(t *testing.T) {
	db := testDB(t)

	drafts := []*DraftRow{
		{ID: "d1", PendingID: "p1", TribeID: "t1", Status: "uploading", Timestamp: 1000},
		{ID: "d2", PendingID: "p1", TribeID: "t2", Status: "uploading", Timestamp: 2000},
		{ID: "d3", PendingID: "p2", TribeID: "t1", Status: "uploading", Timestamp: 3000},
	}
	for _, d := range drafts {
		if err := db.InsertDraft(d); err != nil {
			t.Fatal(err)
		}
	}

	refs, err := db.DraftsForPending("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("DraftsForPending(p1) = %d drafts, want 2", len(refs))
	}

	n, err := db.SetDraftStatusForPending("p1", "failed_to_upload")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("changed %d drafts, want 2", n)
	}

	failed, err := db.DraftsByStatus("failed_to_upload")
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 2 {
		t.Errorf("got %d failed drafts, want 2", len(failed))
	}

	if err := db.MarkDraftPosted("d3", "srv-1"); err != nil {
		t.Fatal(err)
	}
	d3, err := db.GetDraft("d3")
	if err != nil {
		t.Fatal(err)
	}
	if d3.Status != "posted" || d3.ServerMsgID != "srv-1" {
		t.Errorf("d3 = %+v, want posted with srv-1", d3)
	}

	// Posted drafts are no longer candidates for posting.
	refs, _ = db.DraftsForPending("p2")
	if len(refs) != 0 {
		t.Errorf("DraftsForPending(p2) = %d, want 0 after post", len(refs))
	}

	tribe1, err := db.DraftsByTribe("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tribe1) != 2 || tribe1[0].ID != "d1" {
		t.Errorf("DraftsByTribe(t1) = %+v, want [d1 d3]", tribe1)
	}

	if err := db.DeleteDraftsForPending("p1"); err != nil {
		t.Fatal(err)
	}
	refs, _ = db.DraftsForPending("p1")
	if len(refs) != 0 {
		t.Errorf("drafts for p1 survived delete: %d", len(refs))
	}
}
