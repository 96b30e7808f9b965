package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func newTestSQLiteStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	st, err := NewSQLiteStore(path, opts...)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	return st
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContract(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_Compressed(t *testing.T) {
	storeContract(t, newTestSQLiteStore(t, WithCodec(ZstdCodec())))
}

func TestSQLiteStore_MixedEncodings(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mixed.db")

	plain, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := plain.Save(ctx, "old", sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	_ = plain.Close()

	compressed, err := NewSQLiteStore(path, WithCodec(ZstdCodec()))
	if err != nil {
		t.Fatal(err)
	}
	defer compressed.Close()

	if err := compressed.Save(ctx, "new", Snapshot{"n": json.RawMessage(`1`)}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"old", "new"} {
		if _, err := compressed.Load(ctx, id); err != nil {
			t.Errorf("Load(%s) error = %v", id, err)
		}
	}

	var encoding string
	if err := compressed.db.QueryRowContext(ctx,
		"SELECT encoding FROM graph_checkpoints WHERE session_id = ?", "new").Scan(&encoding); err != nil {
		t.Fatal(err)
	}
	if encoding != "zstd" {
		t.Errorf("encoding = %q, want zstd", encoding)
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save(ctx, "s1", sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, err := reopened.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() after reopen error = %v", err)
	}
	if string(got["topic"]) != `"protein"` {
		t.Errorf("topic = %s", got["topic"])
	}
}

func TestSQLiteStore_InvalidTable(t *testing.T) {
	_, err := NewSQLiteStore(":memory:", WithTable("drop table; --"))
	if err == nil || !strings.Contains(err.Error(), "invalid table name") {
		t.Errorf("expected invalid table error, got %v", err)
	}
}
