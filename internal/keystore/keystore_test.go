package keystore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/matheus3301/tribe/internal/store"
)

// Cheap scrypt costs for tests.
var testParams = Params{N: 1 << 10, R: 8, P: 1}

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSealedRoundTrip(t *testing.T) {
	db := testDB(t)
	ks, err := Open(db, "hunter2", testParams)
	if err != nil {
		t.Fatal(err)
	}

	if err := Set(ks, "user", profile{Name: "ada", Age: 36}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := Get[profile](ks, "user")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.Name != "ada" || got.Age != 36 {
		t.Errorf("Get = %+v (ok=%v), want ada/36", got, ok)
	}

	_, ok, err = Get[profile](ks, "missing")
	if err != nil || ok {
		t.Errorf("Get(missing) ok=%v err=%v, want absent", ok, err)
	}
}

func TestSealedValuesAreNotPlaintext(t *testing.T) {
	db := testDB(t)
	ks, err := Open(db, "pw", testParams)
	if err != nil {
		t.Fatal(err)
	}
	if err := Set(ks, "secret", "plain-token-value"); err != nil {
		t.Fatal(err)
	}
	raw, err := db.GetKV("secret")
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 || string(raw) == `"plain-token-value"` {
		t.Errorf("stored value is not sealed: %q", raw)
	}
}

func TestReopenWithSamePassphrase(t *testing.T) {
	db := testDB(t)
	ks, err := Open(db, "pw", testParams)
	if err != nil {
		t.Fatal(err)
	}
	if err := Set(ks, "n", 42); err != nil {
		t.Fatal(err)
	}

	ks2, err := Open(db, "pw", testParams)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	n, ok, err := Get[int](ks2, "n")
	if err != nil || !ok || n != 42 {
		t.Errorf("Get after reopen = %d ok=%v err=%v, want 42", n, ok, err)
	}
}

func TestWrongPassphrase(t *testing.T) {
	db := testDB(t)
	if _, err := Open(db, "right", testParams); err != nil {
		t.Fatal(err)
	}
	_, err := Open(db, "wrong", testParams)
	if !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Open(wrong) error = %v, want ErrWrongPassphrase", err)
	}
}

func TestValuesBoundToKey(t *testing.T) {
	db := testDB(t)
	ks, err := Open(db, "pw", testParams)
	if err != nil {
		t.Fatal(err)
	}
	if err := Set(ks, "a", "value-a"); err != nil {
		t.Fatal(err)
	}
	raw, _ := db.GetKV("a")
	if err := db.PutKV("b", raw); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Get[string](ks, "b"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("moved value error = %v, want ErrWrongPassphrase", err)
	}
}

func TestBatchCommit(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemory(),
	}
	sealed, err := Open(testDB(t), "pw", testParams)
	if err != nil {
		t.Fatal(err)
	}
	stores["sealed"] = sealed

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			var b Batch
			b.Put("session", map[string]string{"jwt": "j"}).Put("profile", profile{Name: "x"})
			if err := b.Commit(s); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := Get[map[string]string](s, "session"); !ok {
				t.Error("session missing after batch")
			}
			if p, ok, _ := Get[profile](s, "profile"); !ok || p.Name != "x" {
				t.Errorf("profile = %+v ok=%v", p, ok)
			}

			if err := s.Delete("session", "profile"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := Get[profile](s, "profile"); ok {
				t.Error("profile survived delete")
			}
		})
	}
}

func TestBatchEncodeError(t *testing.T) {
	var b Batch
	b.Put("bad", make(chan int))
	if err := b.Commit(NewMemory()); err == nil {
		t.Error("Commit() with unencodable value should fail")
	}
}
