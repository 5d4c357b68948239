package migrate

import (
	"testing"

	"parcelflow/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
	for _, table := range []string{"cases", "inspections", "number_sequences", "events", "properties", "parties", "workflow_configs"} {
		var n int
		if err := conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestBothDialectsShipSameVersions(t *testing.T) {
	lite, err := loadMigrations(db.SQLite)
	if err != nil {
		t.Fatal(err)
	}
	pg, err := loadMigrations(db.Postgres)
	if err != nil {
		t.Fatal(err)
	}
	if len(lite) != len(pg) {
		t.Fatalf("sqlite has %d migrations, postgres %d", len(lite), len(pg))
	}
	for i := range lite {
		if lite[i].Version != pg[i].Version {
			t.Fatalf("version mismatch at %d: %d vs %d", i, lite[i].Version, pg[i].Version)
		}
	}
}
