package db

import (
	"path/filepath"
	"testing"
)

func TestRebindPostgres(t *testing.T) {
	d := &DB{Dialect: Postgres}
	got := d.Rebind(`UPDATE cases SET status=?, remarks='why?' WHERE id=? AND status=?`)
	want := `UPDATE cases SET status=$1, remarks='why?' WHERE id=$2 AND status=$3`
	if got != want {
		t.Fatalf("rebind mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestRebindSQLiteUnchanged(t *testing.T) {
	d := &DB{Dialect: SQLite}
	q := `SELECT id FROM cases WHERE id=?`
	if got := d.Rebind(q); got != q {
		t.Fatalf("expected sqlite query untouched, got %s", got)
	}
}

func TestOpenWorkspaceSQLite(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if conn.Dialect != SQLite {
		t.Fatalf("expected sqlite dialect, got %s", conn.Dialect)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if Path(dir) != filepath.Join(dir, ".parcelflow", "parcelflow.db") {
		t.Fatalf("unexpected path %s", Path(dir))
	}
}

func TestPostgresDSNDetection(t *testing.T) {
	cases := map[string]bool{
		"postgres://u:p@localhost/parcelflow":   true,
		"postgresql://u:p@localhost/parcelflow": true,
		"":                                      false,
		"/tmp/parcelflow.db":                    false,
	}
	for dsn, want := range cases {
		if got := isPostgresDSN(dsn); got != want {
			t.Fatalf("isPostgresDSN(%q)=%v want %v", dsn, got, want)
		}
	}
}
